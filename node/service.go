// Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
package node

import (
	"context"

	"github.com/gridswarm/corenode/cmn/cos"
	"github.com/gridswarm/corenode/cmn/debug"
	"github.com/gridswarm/corenode/codec"
	"github.com/gridswarm/corenode/ident"
	"github.com/gridswarm/corenode/registry"
	"github.com/gridswarm/corenode/rpcsvc"
)

// ServiceServer is the handle returned by AdvertiseService. It owns
// the rpcsvc.Server accepting request connections and the
// registration task advertising its URI to the master.
type ServiceServer struct {
	decl ident.ServiceDecl
	srv  *rpcsvc.Server
	task *registry.Task
}

// AdvertiseService fails with cos.ErrDuplicateService if this node
// already advertises a service by that name (spec §7:
// DUPLICATE_SERVICE).
func (n *Node) AdvertiseService(decl ident.ServiceDecl, req, resp codec.Codec, handler rpcsvc.Handler) (*ServiceServer, error) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, errNodeClosed
	}
	if existing, dup := n.services[decl.ID.Name]; dup {
		n.mu.Unlock()
		return nil, duplicateServiceErr(existing.decl, decl)
	}
	n.mu.Unlock()

	handshakeTimeout := n.cfg.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = rpcsvc.HandshakeTimeout
	}
	srv, err := rpcsvc.NewServer(decl, req, resp, handler, n.sched, "0.0.0.0:0", handshakeTimeout)
	if err != nil {
		return nil, err
	}
	// ID.URI stays a bare host:port so rpcsvc.Client can dial it
	// directly; the "rosrpc://" form is only for the master's
	// informational service-uri field.
	decl.ID.URI = srv.Addr()
	registeredURI := "rosrpc://" + decl.ID.URI

	ss := &ServiceServer{decl: decl, srv: srv}

	register := func(ctx context.Context) (any, error) {
		return nil, n.master.RegisterService(ctx, string(n.cfg.Name), string(decl.ID.Name), registeredURI, n.slaveURI())
	}
	unregister := func(ctx context.Context) error {
		_, err := n.master.UnregisterService(ctx, string(n.cfg.Name), string(decl.ID.Name), registeredURI)
		return err
	}
	ss.task = registry.NewTask("svc:"+string(decl.ID.Name), register, unregister, n.sched, nil)

	n.mu.Lock()
	if existing, dup := n.services[decl.ID.Name]; dup {
		n.mu.Unlock()
		srv.Close()
		return nil, duplicateServiceErr(existing.decl, decl)
	}
	n.services[decl.ID.Name] = ss
	n.mu.Unlock()

	return ss, nil
}

// duplicateServiceErr reports DUPLICATE_SERVICE for a second
// AdvertiseService under a name already in use (spec §3's equality
// invariant: "names, type-names, and digests match; the URI is
// informational"). A mismatched type or digest under the same name is
// a genuine conflict, called out distinctly from a byte-identical
// re-advertisement.
func duplicateServiceErr(existing, want ident.ServiceDecl) error {
	if !existing.ID.EqualKey(want.ID) {
		debug.Assert(false, "duplicateServiceErr called for different service names")
	}
	if !existing.Equal(want) {
		return cos.Wrapf(cos.ErrDuplicateService, "service %s already advertised with a different type/digest: have %s/%s, want %s/%s",
			want.ID.Name, existing.TypeName, existing.Digest, want.TypeName, want.Digest)
	}
	return cos.Wrapf(cos.ErrDuplicateService, "service %s already advertised", want.ID.Name)
}

func (ss *ServiceServer) Addr() string { return ss.srv.Addr() }

func (ss *ServiceServer) Shutdown(ctx context.Context) error {
	ss.srv.Close()
	return ss.task.Unregister(ctx)
}

// ServiceClient returns a lazy handle for decl: the underlying
// rpcsvc connection is dialed on the first Call (spec §4.8).
type ServiceClient struct {
	cl *rpcsvc.Client
}

func (n *Node) ServiceClient(decl ident.ServiceDecl, req, resp codec.Codec) *ServiceClient {
	cl := rpcsvc.NewClient(decl, string(n.cfg.Name), req, resp)
	if n.cfg.HandshakeTimeout > 0 {
		cl.SetHandshakeTimeout(n.cfg.HandshakeTimeout)
	}
	return &ServiceClient{cl: cl}
}

func (c *ServiceClient) Call(ctx context.Context, request any, cb rpcsvc.Callback) error {
	return c.cl.Call(ctx, request, cb)
}

func (c *ServiceClient) CallSync(ctx context.Context, request any) (any, error) {
	return c.cl.CallSync(ctx, request)
}

func (c *ServiceClient) Close() { c.cl.Close() }
