// Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
package topic

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/gridswarm/corenode/cmn/cos"
	"github.com/gridswarm/corenode/cmn/nlog"
	"github.com/gridswarm/corenode/codec"
	"github.com/gridswarm/corenode/queue"
	"github.com/gridswarm/corenode/rpcsvc"
)

// DefaultInRingSize is the incoming connection's receive-to-dispatch
// ring capacity (spec §4.4: "capacity 8192 by default").
const DefaultInRingSize = 8192

// IncomingConn is one subscriber-side connection to a publisher: a
// receive loop that deserializes wire frames into the ring, and a
// dispatcher loop that fans each Message out to every attached
// listener over the shared Scheduler so a slow listener never blocks
// another (C4, spec §4.4).
type IncomingConn struct {
	nc         net.Conn
	codec      codec.Codec
	ring       *queue.Ring
	sched      rpcsvc.Scheduler
	compressed bool

	mu         sync.Mutex
	listeners  map[string]Listener
	latchOn    bool
	latched    *Message
	hasLatched bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewIncomingConn wraps nc and starts the receive and dispatch loops.
// latchOn is the subscriber's own latch setting (discover.Manager
// passes the value it was built with; the latching field of the
// publisher's reply header is not consulted): when set, AddListener
// delivers the most recently received value immediately. compressed mirrors the
// negotiated x-lz4 header field (spec §6): frames are read through
// the LZ4-block decoder instead of the raw length-prefix reader.
func NewIncomingConn(nc net.Conn, c codec.Codec, sched rpcsvc.Scheduler, latchOn, compressed bool) *IncomingConn {
	ctx, cancel := context.WithCancel(context.Background())
	ic := &IncomingConn{
		nc:         nc,
		codec:      c,
		ring:       queue.New(DefaultInRingSize),
		sched:      sched,
		listeners:  make(map[string]Listener),
		latchOn:    latchOn,
		compressed: compressed,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go ic.receiveLoop()
	go ic.dispatchLoop(ctx)
	return ic
}

func (ic *IncomingConn) receiveLoop() {
	defer ic.ring.Close()
	for {
		var body []byte
		var err error
		if ic.compressed {
			body, err = readCompressedFrame(ic.nc)
		} else {
			body, err = readFrame(ic.nc)
		}
		if err != nil {
			if err != io.EOF {
				nlog.Warningf("topic: receive from %s: %v", ic.nc.RemoteAddr(), err)
			}
			return
		}
		v, err := ic.codec.Deserialize(body)
		if err != nil {
			nlog.Warningf("topic: deserialize from %s: %v", ic.nc.RemoteAddr(), err)
			continue
		}
		ic.ring.Put(Message{Raw: body, Value: v})
	}
}

func (ic *IncomingConn) dispatchLoop(ctx context.Context) {
	defer close(ic.done)
	for {
		item, ok := ic.ring.Take(ctx)
		if !ok {
			return
		}
		msg := item.(Message)

		// Scheduling happens while still holding ic.mu so this loop's
		// enqueue order relative to AddListener's catch-up Schedule
		// call (also issued under ic.mu) is the same as their lock
		// acquisition order: whichever runs first under the lock also
		// enqueues first to any lane they share.
		ic.mu.Lock()
		if ic.latchOn {
			m := msg
			ic.latched = &m
			ic.hasLatched = true
		}
		for id, l := range ic.listeners {
			id, l := id, l
			ic.sched.Schedule(id, func() { l(msg) })
		}
		ic.mu.Unlock()
	}
}

// AddListener attaches l under id (copy-on-write map, spec §4.4's
// "snapshot the listener set before each dispatch so AddListener and
// RemoveListener never race a delivery in progress"). If latching is
// on and a value already arrived, l's first invocation is a scheduled
// catch-up on the latched value. The catch-up Schedule call is issued
// while still holding ic.mu, the same lock dispatchLoop holds while
// scheduling live deliveries, so the two can never race into a shared
// lane out of order.
func (ic *IncomingConn) AddListener(id string, l Listener) {
	ic.mu.Lock()
	next := make(map[string]Listener, len(ic.listeners)+1)
	for k, v := range ic.listeners {
		next[k] = v
	}
	next[id] = l
	ic.listeners = next
	if ic.latchOn && ic.hasLatched {
		m := *ic.latched
		ic.sched.Schedule(id, func() { l(m) })
	}
	ic.mu.Unlock()
}

func (ic *IncomingConn) RemoveListener(id string) {
	ic.mu.Lock()
	next := make(map[string]Listener, len(ic.listeners))
	for k, v := range ic.listeners {
		if k != id {
			next[k] = v
		}
	}
	ic.listeners = next
	ic.mu.Unlock()
}

func (ic *IncomingConn) NumListeners() int {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return len(ic.listeners)
}

// Shutdown closes the underlying connection and waits for the
// dispatch loop to drain.
func (ic *IncomingConn) Shutdown() {
	ic.nc.Close()
	ic.cancel()
	<-ic.done
}

func readFrame(r io.Reader) ([]byte, error) {
	var lb [4]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lb[:])
	const maxFrame = 64 << 20
	if n > maxFrame {
		return nil, cos.Wrapf(cos.ErrMalformedHeader, "frame too large: %d bytes", n)
	}
	body := make([]byte, n)
	_, err := io.ReadFull(r, body)
	return body, err
}
