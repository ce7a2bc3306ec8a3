// Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
package topic

import (
	"context"
	"encoding/binary"
	"io"
	"sync"

	"github.com/gridswarm/corenode/cmn/nlog"
	"github.com/gridswarm/corenode/codec"
	"github.com/gridswarm/corenode/queue"
)

// DefaultOutRingSize is the per-connection outbound ring capacity
// (spec §4.3: "capacity 8 by default; drop-oldest").
const DefaultOutRingSize = 8

// Writer is the minimum a peer connection needs to support: a
// length-prefixed frame sink and a close. A net.Conn satisfies it
// directly.
type Writer interface {
	Write([]byte) (int, error)
	Close() error
}

// outConn is one attached peer connection: an outbound ring plus the
// background sender task draining it (spec §4.3's "background sender
// task per connection").
type outConn struct {
	id         string
	ring       *queue.Ring
	w          Writer
	stop       context.CancelFunc
	compressed bool
}

// OutgoingQueue is the publisher-owned fan-out queue (C3). It
// serializes a message once and enqueues the bytes to every attached
// connection's own ring; a write failure removes that connection
// silently (spec §4.3: "ownership-safe cleanup").
type OutgoingQueue struct {
	codec codec.Codec

	mu          sync.Mutex
	conns       map[string]*outConn
	latchOn     bool
	latchedRaw  []byte
	hasLatched  bool
	ringSize    int
}

func NewOutgoingQueue(c codec.Codec) *OutgoingQueue {
	return &OutgoingQueue{codec: c, conns: make(map[string]*outConn), ringSize: DefaultOutRingSize}
}

// Put serializes v once and enqueues the result to every attached
// connection (testable property #1: with one peer attached before the
// first Put and a consumer that never falls behind, it receives
// exactly the Put sequence, in order).
func (q *OutgoingQueue) Put(v any) error {
	body, err := q.codec.Serialize(v)
	if err != nil {
		return err
	}
	q.mu.Lock()
	if q.latchOn {
		q.latchedRaw = body
		q.hasLatched = true
	}
	conns := make([]*outConn, 0, len(q.conns))
	for _, c := range q.conns {
		conns = append(conns, c)
	}
	q.mu.Unlock()

	for _, c := range conns {
		c.ring.Put(body)
	}
	return nil
}

// AddChannel attaches a new peer connection under id, idempotent per
// id (spec §4.3). If latching is on and a value already exists, it is
// enqueued immediately so a late subscriber's first delivery is the
// latched value (testable property #3). compressed marks a connection
// that negotiated the x-lz4 header field during the handshake (spec
// §6): its frames are LZ4-block-compressed on the wire.
func (q *OutgoingQueue) AddChannel(id string, w Writer, compressed bool) {
	q.mu.Lock()
	if _, dup := q.conns[id]; dup {
		q.mu.Unlock()
		return
	}
	ring := queue.New(q.ringSize)
	ctx, cancel := context.WithCancel(context.Background())
	oc := &outConn{id: id, ring: ring, w: w, stop: cancel, compressed: compressed}
	q.conns[id] = oc
	if q.latchOn && q.hasLatched {
		ring.Put(q.latchedRaw)
	}
	q.mu.Unlock()

	go q.sendLoop(ctx, oc)
}

func (q *OutgoingQueue) sendLoop(ctx context.Context, oc *outConn) {
	for {
		body, ok := oc.ring.Take(ctx)
		if !ok {
			return
		}
		raw := body.([]byte)
		var err error
		if oc.compressed {
			err = writeCompressedFrame(oc.w, raw)
		} else {
			err = writeFrame(oc.w, raw)
		}
		if err != nil {
			nlog.Warningf("topic: write to %s failed, detaching: %v", oc.id, err)
			q.RemoveChannel(oc.id)
			return
		}
	}
}

// RemoveChannel detaches and closes the ring for id; no further
// writes are attempted.
func (q *OutgoingQueue) RemoveChannel(id string) {
	q.mu.Lock()
	oc, ok := q.conns[id]
	if ok {
		delete(q.conns, id)
	}
	q.mu.Unlock()
	if ok {
		oc.stop()
		oc.ring.Close()
		oc.w.Close()
	}
}

func (q *OutgoingQueue) SetLatch(b bool) {
	q.mu.Lock()
	q.latchOn = b
	if !b {
		q.hasLatched = false
		q.latchedRaw = nil
	}
	q.mu.Unlock()
}

func (q *OutgoingQueue) GetLatch() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.latchOn
}

// NumConns reports the number of attached connections, for metrics
// and tests (testable property #4: reconciled set == open connections).
func (q *OutgoingQueue) NumConns() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.conns)
}

func writeFrame(w io.Writer, body []byte) error {
	var lb [4]byte
	binary.LittleEndian.PutUint32(lb[:], uint32(len(body)))
	if _, err := w.Write(lb[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}
