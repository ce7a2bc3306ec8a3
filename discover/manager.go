// Package discover implements the subscriber connection manager (C5,
// spec §4.5): reconciling the set of known publisher endpoints against
// open connections, performing handshakes, and coalescing concurrent
// connect attempts to the same publisher. Grounded on the teacher's
// transport/bundle stream-bundle Resync: a target-vs-current diff
// applied under one lock, with per-destination work fired outside it.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package discover

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gridswarm/corenode/cmn/cos"
	"github.com/gridswarm/corenode/cmn/nlog"
	"github.com/gridswarm/corenode/codec"
	"github.com/gridswarm/corenode/ident"
	"github.com/gridswarm/corenode/rpcsvc"
	"github.com/gridswarm/corenode/topic"
	"github.com/gridswarm/corenode/wire"
)

// Endpoint names one publisher's directory-facing address, the unit
// the master hands back in registerSubscriber's result and in
// publisherUpdate notifications.
type Endpoint struct {
	Publisher ident.PublisherID
	SlaveURI  string // host:port of the publisher's directory endpoint
}

// RequestTopic is the directory RPC consumed by the connect task (spec
// §4.5 step 1): it asks the publisher's own slave endpoint which
// transport and address to use. Implemented externally (masterapi/
// slaveapi client); injected here so discover has no RPC-library
// dependency of its own.
type RequestTopic func(ctx context.Context, slaveURI string, topicName, callerID ident.Name) (hostPort string, err error)

// connEntry is one live publisher connection owned by the manager.
type connEntry struct {
	ep ident.PublisherID
	ic *topic.IncomingConn
}

// Manager reconciles the target publisher set for one subscription
// against its open connections (C5). One Manager exists per
// subscriber.
type Manager struct {
	decl             ident.TopicDecl
	callerID         string
	reqCodec         codec.Codec
	sched            rpcsvc.Scheduler
	requestTopic     RequestTopic
	latchOn          bool
	wantCompress     bool
	handshakeTimeout time.Duration
	dialer           net.Dialer

	sf singleflight.Group

	onAttach func(ident.PublisherID, *topic.IncomingConn)
	onDetach func(ident.PublisherID, *topic.IncomingConn)
	onError  func(ident.PublisherID, error)

	mu      sync.Mutex
	current map[ident.PublisherID]*connEntry
	closed  bool
}

func NewManager(decl ident.TopicDecl, callerID string, c codec.Codec, sched rpcsvc.Scheduler, rt RequestTopic, latchOn bool) *Manager {
	return &Manager{
		decl:             decl,
		callerID:         callerID,
		reqCodec:         c,
		sched:            sched,
		requestTopic:     rt,
		latchOn:          latchOn,
		handshakeTimeout: rpcsvc.HandshakeTimeout,
		current:          make(map[ident.PublisherID]*connEntry),
	}
}

// OnAttach/OnDetach let a subscriber handle apply and withdraw its
// listener set as the manager's connection set changes, without the
// manager knowing anything about listeners itself.
func (m *Manager) OnAttach(fn func(ident.PublisherID, *topic.IncomingConn)) { m.onAttach = fn }
func (m *Manager) OnDetach(fn func(ident.PublisherID, *topic.IncomingConn)) { m.onDetach = fn }

// OnError reports a failed connect attempt to the publisher p (spec
// §7: handshake mismatches and transport errors are "reported to
// listeners", not just logged).
func (m *Manager) OnError(fn func(ident.PublisherID, error)) { m.onError = fn }

// SetCompression requests LZ4-compressed frames (spec §6's optional
// x-lz4 header field) on every future connect; a publisher that
// doesn't honor it simply omits the field from its reply.
func (m *Manager) SetCompression(want bool) { m.wantCompress = want }

// SetHandshakeTimeout overrides the deadline applied while dialing and
// handshaking a new publisher connection (defaults to
// rpcsvc.HandshakeTimeout).
func (m *Manager) SetHandshakeTimeout(d time.Duration) { m.handshakeTimeout = d }

// Reconcile applies spec §4.5's four-step algorithm: diff, schedule
// connects for additions, tear down removals, atomically replace the
// current set. Observers of Snapshot never see a torn intermediate
// set because the swap happens under one lock.
func (m *Manager) Reconcile(target []ident.PublisherID) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	wantSet := make(map[ident.PublisherID]struct{}, len(target))
	for _, p := range target {
		wantSet[p] = struct{}{}
	}

	var toAdd []ident.PublisherID
	for p := range wantSet {
		if _, ok := m.current[p]; !ok {
			toAdd = append(toAdd, p)
		}
	}
	var toRemove []*connEntry
	for p, ce := range m.current {
		if _, ok := wantSet[p]; !ok {
			toRemove = append(toRemove, ce)
			delete(m.current, p)
		}
	}
	m.mu.Unlock()

	for _, ce := range toRemove {
		if m.onDetach != nil {
			m.onDetach(ce.ep, ce.ic)
		}
		ce.ic.Shutdown()
	}
	for _, p := range toAdd {
		go m.connect(p)
	}
}

// connect runs the per-publisher connect task (spec §4.5). Duplicate
// requests for the same publisher identifier, whether from overlapping
// Reconcile calls or a retry, are coalesced onto one singleflight call.
func (m *Manager) connect(p ident.PublisherID) {
	_, _, _ = m.sf.Do(p.String(), func() (any, error) {
		ic, err := m.dial(p)
		if err != nil {
			nlog.Warningf("discover: connect to %s: %v", p, err)
			if m.onError != nil {
				m.onError(p, err)
			}
			return nil, err
		}
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			ic.Shutdown()
			return nil, cos.ErrCancelled
		}
		m.current[p] = &connEntry{ep: p, ic: ic}
		m.mu.Unlock()
		if m.onAttach != nil {
			m.onAttach(p, ic)
		}
		return nil, nil
	})
}

func (m *Manager) dial(p ident.PublisherID) (*topic.IncomingConn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.handshakeTimeout)
	defer cancel()

	hostPort, err := m.requestTopic(ctx, p.Node.SlaveURI, p.Topic.Name, ident.Name(m.callerID))
	if err != nil {
		return nil, cos.Wrapf(cos.ErrTransport, "requestTopic %s: %v", p, err)
	}

	conn, err := m.dialer.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return nil, cos.Wrapf(cos.ErrTransport, "dial %s: %v", hostPort, err)
	}
	conn.SetDeadline(time.Now().Add(m.handshakeTimeout))

	h := wire.NewHeader()
	h.Set(wire.FieldCallerID, m.callerID)
	h.Set(wire.FieldTopic, string(m.decl.ID.Name))
	h.Set(wire.FieldType, m.decl.TypeName)
	h.Set(wire.FieldMD5Checksum, m.decl.Digest)
	h.Set(wire.FieldMessageDefinition, m.decl.TypeDefinition)
	if m.latchOn {
		h.Set(wire.FieldLatching, "1")
	}
	if m.wantCompress {
		h.Set(wire.FieldCompression, "lz4")
	}
	if err := wire.WriteTo(conn, h); err != nil {
		conn.Close()
		return nil, err
	}

	reply, err := wire.ReadFrom(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	serverDigest, _ := reply.Get(wire.FieldMD5Checksum)
	if !wire.DigestsCompatible(m.decl.Digest, serverDigest) {
		conn.Close()
		return nil, cos.Wrapf(cos.ErrHandshakeMismatch, "topic %s: subscriber md5=%s publisher md5=%s",
			m.decl.ID.Name, m.decl.Digest, serverDigest)
	}
	conn.SetDeadline(time.Time{})

	compression, _ := reply.Get(wire.FieldCompression)
	compressed := compression == "lz4"
	return topic.NewIncomingConn(conn, m.reqCodec, m.sched, m.latchOn, compressed), nil
}

// Connections returns the currently attached incoming connections,
// keyed by publisher identifier, for listener wiring (node.Subscriber
// attaches/detaches its own listener set against this as it changes).
func (m *Manager) Connections() map[ident.PublisherID]*topic.IncomingConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[ident.PublisherID]*topic.IncomingConn, len(m.current))
	for p, ce := range m.current {
		out[p] = ce.ic
	}
	return out
}

// NumConnections reports the open connection count (testable property
// #4: reconciled target set equals the set of open connections).
func (m *Manager) NumConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.current)
}

// Shutdown tears down every open connection and rejects any connect
// task still in flight.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	conns := m.current
	m.current = make(map[ident.PublisherID]*connEntry)
	m.mu.Unlock()
	for _, ce := range conns {
		if m.onDetach != nil {
			m.onDetach(ce.ep, ce.ic)
		}
		ce.ic.Shutdown()
	}
}
