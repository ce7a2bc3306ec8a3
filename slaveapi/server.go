// Package slaveapi is this node's own directory-facing server (spec
// §6's "per-node directory endpoint"): requestTopic for publishers and
// publisherUpdate for subscribers, both invoked by the master or by
// peer nodes. Built on valyala/fasthttp, the HTTP stack the rest of
// the example pack uses for its lightweight request servers.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package slaveapi

import (
	"encoding/xml"
	"fmt"
	"net"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/gridswarm/corenode/cmn/cos"
	"github.com/gridswarm/corenode/cmn/nlog"
)

// RequestTopicFunc answers "what transport and address should a
// subscriber use for this topic" (spec §4.5 step 1, consumed by
// discover.Manager on the calling side).
type RequestTopicFunc func(caller, topic string, protocols []string) (protocol, host string, port int, err error)

// PublisherUpdateFunc is invoked when the master pushes a new
// publisher set for a topic this node subscribes to; it is handed
// straight to discover.Manager.Reconcile by the node layer.
type PublisherUpdateFunc func(caller, topic string, publisherURIs []string)

// Server answers the two directory-facing RPCs for one node.
type Server struct {
	requestTopic    RequestTopicFunc
	publisherUpdate PublisherUpdateFunc
	srv             *fasthttp.Server
	ln              net.Listener
}

// NewServer binds addr synchronously (so the caller can read back the
// bound port immediately, e.g. when addr ends in ":0") and returns a
// Server ready for Serve.
func NewServer(addr string, rt RequestTopicFunc, pu PublisherUpdateFunc) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, cos.Wrapf(cos.ErrTransport, "slaveapi listen %s: %v", addr, err)
	}
	s := &Server{requestTopic: rt, publisherUpdate: pu, ln: ln}
	s.srv = &fasthttp.Server{Handler: s.handle}
	return s, nil
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve blocks accepting connections; run it in its own goroutine.
func (s *Server) Serve() error {
	return s.srv.Serve(s.ln)
}

func (s *Server) Shutdown() error {
	return s.srv.Shutdown()
}

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	method, params, err := decodeCall(ctx.PostBody())
	if err != nil {
		ctx.Error("malformed request", fasthttp.StatusBadRequest)
		return
	}
	switch method {
	case "requestTopic":
		s.handleRequestTopic(ctx, params)
	case "publisherUpdate":
		s.handlePublisherUpdate(ctx, params)
	default:
		writeTuple(ctx, -1, "unknown method "+method, nil)
	}
}

func (s *Server) handleRequestTopic(ctx *fasthttp.RequestCtx, params []string) {
	if len(params) < 2 {
		writeTuple(ctx, 0, "requestTopic: missing arguments", nil)
		return
	}
	caller, topic := params[0], params[1]
	protocol, host, port, err := s.requestTopic(caller, topic, params[2:])
	if err != nil {
		nlog.Warningf("slaveapi: requestTopic(%s, %s): %v", caller, topic, err)
		writeTuple(ctx, 0, err.Error(), nil)
		return
	}
	writeTuple(ctx, 1, "", []string{protocol, host, fmt.Sprint(port)})
}

func (s *Server) handlePublisherUpdate(ctx *fasthttp.RequestCtx, params []string) {
	if len(params) < 2 {
		writeTuple(ctx, 0, "publisherUpdate: missing arguments", nil)
		return
	}
	caller, topic := params[0], params[1]
	s.publisherUpdate(caller, topic, params[2:])
	writeTuple(ctx, 1, "", nil)
}

//
// XML-RPC-ish encoding shared in shape with masterapi, kept
// independent so slaveapi has no dependency on it.
//

func decodeCall(raw []byte) (method string, params []string, err error) {
	var mc struct {
		MethodName string `xml:"methodName"`
		Params     struct {
			Param []struct {
				Value struct {
					String string `xml:"string"`
					Array  struct {
						Values []struct {
							String string `xml:"string"`
						} `xml:"data>value"`
					} `xml:"array"`
				} `xml:"value"`
			} `xml:"param"`
		} `xml:"params"`
	}
	if err = xml.Unmarshal(raw, &mc); err != nil {
		return "", nil, err
	}
	for _, p := range mc.Params.Param {
		if len(p.Value.Array.Values) > 0 {
			for _, v := range p.Value.Array.Values {
				params = append(params, v.String)
			}
			continue
		}
		params = append(params, p.Value.String)
	}
	return mc.MethodName, params, nil
}

func writeTuple(ctx *fasthttp.RequestCtx, status int, message string, value []string) {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><methodResponse><params><param><value><array><data>`)
	fmt.Fprintf(&b, `<value><int>%d</int></value>`, status)
	b.WriteString(`<value><string>`)
	xml.EscapeText(&b, []byte(message))
	b.WriteString(`</string></value>`)
	b.WriteString(`<value><array><data>`)
	for _, v := range value {
		b.WriteString(`<value><string>`)
		xml.EscapeText(&b, []byte(v))
		b.WriteString(`</string></value>`)
	}
	b.WriteString(`</data></array></value>`)
	b.WriteString(`</data></array></value></param></params></methodResponse>`)
	ctx.SetContentType("text/xml")
	ctx.SetBodyString(b.String())
}
