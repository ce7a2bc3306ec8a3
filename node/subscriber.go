// Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
package node

import (
	"context"
	"sync"

	"github.com/gridswarm/corenode/cmn/nlog"
	"github.com/gridswarm/corenode/codec"
	"github.com/gridswarm/corenode/discover"
	"github.com/gridswarm/corenode/ident"
	"github.com/gridswarm/corenode/registry"
	"github.com/gridswarm/corenode/topic"
)

type subOptions struct {
	latch    bool
	compress bool
}

type SubOpt func(*subOptions)

// WithLatchAware tells the subscriber's connection manager to ask
// each publisher for latch delivery and to request immediate
// catch-up delivery from AddListener (spec §4.4).
func WithLatchAware() SubOpt { return func(o *subOptions) { o.latch = true } }

// WithCompression requests LZ4-compressed frames (spec §6's optional
// x-lz4 header field) from every publisher this subscriber connects
// to.
func WithCompression() SubOpt { return func(o *subOptions) { o.compress = true } }

// ErrorListener is notified of a failed connect attempt against a
// publisher (spec §7: HANDSHAKE_MISMATCH and transport errors are
// "reported to listeners", not just logged).
type ErrorListener func(ident.PublisherID, error)

// Subscriber is the user-facing handle returned by Subscribe. Its
// listener set is applied to every connection discover.Manager
// currently has open, and to every connection it opens in the future
// (spec §4.4's "AddListener ... immediate catch-up").
type Subscriber struct {
	decl ident.TopicDecl
	node *Node
	mgr  *discover.Manager
	task *registry.Task

	mu           sync.Mutex
	listeners    map[string]topic.Listener
	errListeners map[string]ErrorListener
}

func (n *Node) Subscribe(decl ident.TopicDecl, c codec.Codec, opts ...SubOpt) (*Subscriber, error) {
	var o subOptions
	for _, opt := range opts {
		opt(&o)
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, errNodeClosed
	}
	n.mu.Unlock()

	s := &Subscriber{decl: decl, node: n, listeners: make(map[string]topic.Listener), errListeners: make(map[string]ErrorListener)}

	rt := func(ctx context.Context, slaveURI string, topicName, callerID ident.Name) (string, error) {
		_, host, port, err := n.requestTopicRPC(ctx, slaveURI, string(topicName), string(callerID))
		if err != nil {
			return "", err
		}
		return host + ":" + port, nil
	}
	s.mgr = discover.NewManager(decl, string(n.cfg.Name), c, n.sched, rt, o.latch)
	s.mgr.SetCompression(o.compress)
	if n.cfg.HandshakeTimeout > 0 {
		s.mgr.SetHandshakeTimeout(n.cfg.HandshakeTimeout)
	}
	s.mgr.OnAttach(func(_ ident.PublisherID, ic *topic.IncomingConn) {
		s.mu.Lock()
		snapshot := make(map[string]topic.Listener, len(s.listeners))
		for id, l := range s.listeners {
			snapshot[id] = l
		}
		s.mu.Unlock()
		for id, l := range snapshot {
			ic.AddListener(id, l)
		}
	})
	s.mgr.OnError(func(p ident.PublisherID, err error) {
		s.mu.Lock()
		snapshot := make(map[string]ErrorListener, len(s.errListeners))
		for id, l := range s.errListeners {
			snapshot[id] = l
		}
		s.mu.Unlock()
		for _, l := range snapshot {
			l(p, err)
		}
	})

	register := func(ctx context.Context) (any, error) {
		uris, err := n.master.RegisterSubscriber(ctx, string(n.cfg.Name), string(decl.ID.Name), decl.TypeName, n.slaveURI())
		if err != nil {
			return nil, err
		}
		return uris, nil
	}
	unregister := func(ctx context.Context) error {
		_, err := n.master.UnregisterSubscriber(ctx, string(n.cfg.Name), string(decl.ID.Name), n.slaveURI())
		return err
	}
	onResult := func(v any) {
		uris, _ := v.([]string)
		s.mgr.Reconcile(n.publisherIDsFromURIs(decl.ID, uris))
	}
	s.task = registry.NewTask("sub:"+string(decl.ID.Name), register, unregister, n.sched, onResult)

	n.mu.Lock()
	n.subscribers[decl.ID.Name] = s
	n.mu.Unlock()

	return s, nil
}

// AddListener attaches l under id and applies it to every currently
// open connection immediately.
func (s *Subscriber) AddListener(id string, l topic.Listener) {
	s.mu.Lock()
	s.listeners[id] = l
	s.mu.Unlock()
	for _, ic := range s.mgr.Connections() {
		ic.AddListener(id, l)
	}
}

func (s *Subscriber) RemoveListener(id string) {
	s.mu.Lock()
	delete(s.listeners, id)
	s.mu.Unlock()
	for _, ic := range s.mgr.Connections() {
		ic.RemoveListener(id)
	}
}

// AddErrorListener attaches l under id; it is invoked whenever a
// connect attempt against a publisher for this subscription fails
// (spec §7's reported-to-listeners contract).
func (s *Subscriber) AddErrorListener(id string, l ErrorListener) {
	s.mu.Lock()
	s.errListeners[id] = l
	s.mu.Unlock()
}

func (s *Subscriber) RemoveErrorListener(id string) {
	s.mu.Lock()
	delete(s.errListeners, id)
	s.mu.Unlock()
}

// applyPublisherUpdate is invoked by the node's slaveapi handler when
// the master pushes a fresh publisher set for this topic.
func (s *Subscriber) applyPublisherUpdate(uris []string) {
	nlog.Infof("subscriber %s: publisherUpdate with %d publisher(s)", s.decl.ID.Name, len(uris))
	s.mgr.Reconcile(s.node.publisherIDsFromURIs(s.decl.ID, uris))
}

func (s *Subscriber) NumConnections() int { return s.mgr.NumConnections() }

func (s *Subscriber) Shutdown(ctx context.Context) error {
	s.mgr.Shutdown()
	return s.task.Unregister(ctx)
}
