// Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
package rpcsvc

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gridswarm/corenode/cmn/cos"
	"github.com/gridswarm/corenode/cmn/nlog"
	"github.com/gridswarm/corenode/codec"
	"github.com/gridswarm/corenode/ident"
	"github.com/gridswarm/corenode/wire"
)

// Handler builds a response for one request, or returns an error to
// be reported to the caller as a failure frame.
type Handler func(ctx context.Context, request any) (response any, err error)

// Server accepts connections for one advertised service and, for each
// incoming request frame, invokes Handler synchronously or on the
// injected Scheduler (spec §4.6).
type Server struct {
	decl             ident.ServiceDecl
	req, resp        codec.Codec
	handler          Handler
	sched            Scheduler
	handshakeTimeout time.Duration

	ln net.Listener

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewServer starts listening on addr. If sched is nil, requests are
// handled synchronously on the connection's own goroutine. handshakeTimeout
// bounds the deadline applied while reading and replying to the
// connection handshake; pass HandshakeTimeout for the default.
func NewServer(decl ident.ServiceDecl, req, resp codec.Codec, handler Handler, sched Scheduler, addr string, handshakeTimeout time.Duration) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, cos.Wrapf(cos.ErrTransport, "listen %s: %v", addr, err)
	}
	s := &Server{decl: decl, req: req, resp: resp, handler: handler, sched: sched, ln: ln, handshakeTimeout: handshakeTimeout}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}
			nlog.Warningf("service %s: accept: %v", s.decl.ID.Name, err)
			return
		}
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(s.handshakeTimeout))
	clientHdr, err := wire.ReadFrom(conn)
	if err != nil {
		nlog.Warningf("service %s: handshake read: %v", s.decl.ID.Name, err)
		return
	}
	if err := clientHdr.RequireAll(wire.FieldCallerID, wire.FieldService, wire.FieldMD5Checksum, wire.FieldType); err != nil {
		nlog.Warningf("service %s: %v", s.decl.ID.Name, err)
		return
	}
	clientDigest, _ := clientHdr.Get(wire.FieldMD5Checksum)
	if !wire.DigestsCompatible(s.decl.Digest, clientDigest) {
		nlog.Warningf("service %s: handshake mismatch client=%s server=%s", s.decl.ID.Name, clientDigest, s.decl.Digest)
		return
	}

	reply := wire.NewHeader()
	reply.Set(wire.FieldCallerID, string(s.decl.ID.Name))
	reply.Set(wire.FieldService, string(s.decl.ID.Name))
	reply.Set(wire.FieldMD5Checksum, s.decl.Digest)
	reply.Set(wire.FieldType, s.decl.TypeName)
	if err := wire.WriteTo(conn, reply); err != nil {
		return
	}
	conn.SetDeadline(time.Time{})

	for {
		body, err := readFrame(conn)
		if err != nil {
			return // spec §7: TRANSPORT_ERROR, fatal for this connection only
		}
		s.handleOne(conn, body)
	}
}

func (s *Server) handleOne(conn net.Conn, body []byte) {
	run := func() {
		req, err := s.req.Deserialize(body)
		if err != nil {
			writeStatusFrame(conn, 0, []byte(err.Error()))
			return
		}
		resp, err := s.handler(context.Background(), req)
		if err != nil {
			writeStatusFrame(conn, 0, []byte(err.Error()))
			return
		}
		out, err := s.resp.Serialize(resp)
		if err != nil {
			writeStatusFrame(conn, 0, []byte(err.Error()))
			return
		}
		writeStatusFrame(conn, 1, out)
	}
	if s.sched == nil {
		run()
		return
	}
	s.sched.Schedule(conn.RemoteAddr().String(), run)
}

func (s *Server) Close() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	err := s.ln.Close()
	s.wg.Wait()
	return err
}
