// Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
package node

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/gridswarm/corenode/cmn/atomic"
	"github.com/gridswarm/corenode/cmn/mono"
	"github.com/gridswarm/corenode/cmn/nlog"
	"github.com/gridswarm/corenode/codec"
	"github.com/gridswarm/corenode/ident"
	"github.com/gridswarm/corenode/msgtypes"
	"github.com/gridswarm/corenode/registry"
	"github.com/gridswarm/corenode/rpcsvc"
	"github.com/gridswarm/corenode/topic"
	"github.com/gridswarm/corenode/wire"
)

// pubOptions configures AdvertisePublisher; see WithLatch.
type pubOptions struct {
	latch bool
	clock mono.Clock
}

type PubOpt func(*pubOptions)

// WithLatch enables latch-mode on the publisher's outgoing queue
// (spec §4.3/§4.4): the most recent message is replayed to every
// newly-attached subscriber connection.
func WithLatch() PubOpt { return func(o *pubOptions) { o.latch = true } }

// WithClock overrides the publisher's mono.Clock source, used by tests
// asserting E3's monotonic-header property against a fake clock.
func WithClock(c mono.Clock) PubOpt { return func(o *pubOptions) { o.clock = c } }

// Publisher is the user-facing handle returned by AdvertisePublisher:
// Publish feeds C3's outgoing queue; a background TCP listener accepts
// subscriber connections and performs the server side of the topic
// handshake (spec §4.2/§6).
type Publisher struct {
	decl             ident.TopicDecl
	node             *Node
	codec            codec.Codec
	queue            *topic.OutgoingQueue
	ln               net.Listener
	task             *registry.Task
	clock            mono.Clock
	handshakeTimeout time.Duration

	nextConnID atomic.Uint64
	seq        atomic.Uint64
}

func (n *Node) AdvertisePublisher(decl ident.TopicDecl, c codec.Codec, opts ...PubOpt) (*Publisher, error) {
	o := pubOptions{clock: mono.Default}
	for _, opt := range opts {
		opt(&o)
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, errNodeClosed
	}
	n.mu.Unlock()

	ln, err := net.Listen("tcp", "0.0.0.0:0")
	if err != nil {
		return nil, err
	}

	q := topic.NewOutgoingQueue(c)
	q.SetLatch(o.latch)
	handshakeTimeout := n.cfg.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = rpcsvc.HandshakeTimeout
	}
	p := &Publisher{decl: decl, node: n, codec: c, queue: q, ln: ln, clock: o.clock, handshakeTimeout: handshakeTimeout}

	go p.acceptLoop()

	register := func(ctx context.Context) (any, error) {
		return n.master.RegisterPublisher(ctx, string(n.cfg.Name), string(decl.ID.Name), decl.TypeName, n.slaveURI())
	}
	unregister := func(ctx context.Context) error {
		_, err := n.master.UnregisterPublisher(ctx, string(n.cfg.Name), string(decl.ID.Name), n.slaveURI())
		return err
	}
	p.task = registry.NewTask("pub:"+string(decl.ID.Name), register, unregister, n.sched, nil)

	n.mu.Lock()
	n.publishers[decl.ID.Name] = p
	n.mu.Unlock()

	return p, nil
}

func (p *Publisher) Addr() string { return p.ln.Addr().String() }

// Publish stamps v with a fresh Header (seq, mono timestamp) when v
// implements msgtypes.Stamped, then feeds it to the outgoing queue
// (spec §1's injected clock, exercised by E3's monotonic-header
// property).
func (p *Publisher) Publish(v any) error {
	if s, ok := v.(msgtypes.Stamped); ok {
		s.SetHeader(msgtypes.Header{Seq: p.seq.Inc(), Stamp: p.clock.NanoTime()})
	}
	return p.queue.Put(v)
}

func (p *Publisher) NumSubscribers() int { return p.queue.NumConns() }

func (p *Publisher) acceptLoop() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		go p.serveSubscriber(conn)
	}
}

func (p *Publisher) serveSubscriber(conn net.Conn) {
	conn.SetDeadline(time.Now().Add(p.handshakeTimeout))
	h, err := wire.ReadFrom(conn)
	if err != nil {
		nlog.Warningf("publisher %s: handshake read: %v", p.decl.ID.Name, err)
		conn.Close()
		return
	}
	if err := h.RequireAll(wire.FieldCallerID, wire.FieldTopic, wire.FieldMD5Checksum, wire.FieldType); err != nil {
		nlog.Warningf("publisher %s: %v", p.decl.ID.Name, err)
		conn.Close()
		return
	}
	subDigest, _ := h.Get(wire.FieldMD5Checksum)
	if !wire.DigestsCompatible(p.decl.Digest, subDigest) {
		nlog.Warningf("publisher %s: handshake mismatch sub=%s pub=%s", p.decl.ID.Name, subDigest, p.decl.Digest)
		conn.Close()
		return
	}

	wantCompression, _ := h.Get(wire.FieldCompression)
	compressed := wantCompression == "lz4"

	reply := wire.NewHeader()
	reply.Set(wire.FieldCallerID, string(p.node.cfg.Name))
	reply.Set(wire.FieldTopic, string(p.decl.ID.Name))
	reply.Set(wire.FieldType, p.decl.TypeName)
	reply.Set(wire.FieldMD5Checksum, p.decl.Digest)
	reply.Set(wire.FieldMessageDefinition, p.decl.TypeDefinition)
	if p.queue.GetLatch() {
		reply.Set(wire.FieldLatching, "1")
	}
	if compressed {
		reply.Set(wire.FieldCompression, "lz4")
	}
	if err := wire.WriteTo(conn, reply); err != nil {
		conn.Close()
		return
	}
	conn.SetDeadline(time.Time{})

	callerID, _ := h.Get(wire.FieldCallerID)
	connID := callerID + "#" + strconv.FormatUint(p.nextConnID.Inc(), 10)
	p.queue.AddChannel(connID, conn, compressed)
}

// Shutdown closes the listener and unregisters from the master if the
// registration ever succeeded. Subscriber connections already attached
// to the outgoing queue are not closed here; each stays open until a
// write to it fails.
func (p *Publisher) Shutdown(ctx context.Context) error {
	p.ln.Close()
	return p.task.Unregister(ctx)
}
