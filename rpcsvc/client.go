// Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
package rpcsvc

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gridswarm/corenode/cmn/cos"
	"github.com/gridswarm/corenode/cmn/debug"
	"github.com/gridswarm/corenode/cmn/nlog"
	"github.com/gridswarm/corenode/codec"
	"github.com/gridswarm/corenode/ident"
	"github.com/gridswarm/corenode/wire"
)

// Callback receives the outcome of one Call: ok reports success (the
// status byte read off the wire), resp is the deserialized response
// body on success, errMsg is the deserialized error string on failure.
type Callback func(ok bool, resp any, errMsg string)

const HandshakeTimeout = 10 * time.Second

// Client maintains at most one persistent connection to a service
// (spec §4.6, data-model invariant "at most one in-flight connection
// per service identifier").
type Client struct {
	decl             ident.ServiceDecl
	callerID         string
	req              codec.Codec
	resp             codec.Codec
	dialer           net.Dialer
	handshakeTimeout time.Duration

	mu      sync.Mutex
	conn    net.Conn
	pending []Callback
	alive   bool
}

func NewClient(decl ident.ServiceDecl, callerID string, req, resp codec.Codec) *Client {
	return &Client{decl: decl, callerID: callerID, req: req, resp: resp, handshakeTimeout: HandshakeTimeout}
}

// SetHandshakeTimeout overrides the deadline applied while dialing and
// handshaking (defaults to HandshakeTimeout); callers thread their
// configured timeout through before the first Call.
func (c *Client) SetHandshakeTimeout(d time.Duration) { c.handshakeTimeout = d }

// Call appends cb to the FIFO pending deque and writes the serialized
// request, dialing (and handshaking) a fresh connection first if none
// is alive.
func (c *Client) Call(ctx context.Context, request any, cb Callback) error {
	c.mu.Lock()
	if !c.alive {
		if err := c.dialLocked(ctx); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	body, err := c.req.Serialize(request)
	if err != nil {
		c.mu.Unlock()
		return cos.Wrapf(err, "serialize request to %s", c.decl.ID.Name)
	}
	c.pending = append(c.pending, cb)
	conn := c.conn
	c.mu.Unlock()

	if err := writeFrame(conn, body); err != nil {
		c.failAll(cos.Wrapf(cos.ErrTransport, "write request: %v", err))
		return err
	}
	return nil
}

// CallSync is a convenience wrapper blocking until the callback fires
// or ctx is done.
func (c *Client) CallSync(ctx context.Context, request any) (any, error) {
	type result struct {
		resp any
		err  error
	}
	out := make(chan result, 1)
	if err := c.Call(ctx, request, func(ok bool, resp any, errMsg string) {
		if ok {
			out <- result{resp: resp}
		} else {
			out <- result{err: cos.NewKindErr(cos.KindTransport, errMsg)}
		}
	}); err != nil {
		return nil, err
	}
	select {
	case r := <-out:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// under c.mu
func (c *Client) dialLocked(ctx context.Context) error {
	d := c.dialer
	conn, err := d.DialContext(ctx, "tcp", c.decl.ID.URI)
	if err != nil {
		return cos.Wrapf(cos.ErrTransport, "dial %s: %v", c.decl.ID.URI, err)
	}
	conn.SetDeadline(time.Now().Add(c.handshakeTimeout))

	h := wire.NewHeader()
	h.Set(wire.FieldCallerID, c.callerID)
	h.Set(wire.FieldService, string(c.decl.ID.Name))
	h.Set(wire.FieldMD5Checksum, c.decl.Digest)
	h.Set(wire.FieldType, c.decl.TypeName)
	h.Set(wire.FieldPersistent, "1")
	if err := wire.WriteTo(conn, h); err != nil {
		conn.Close()
		return err
	}
	reply, err := wire.ReadFrom(conn)
	if err != nil {
		conn.Close()
		return err
	}
	serverDigest, _ := reply.Get(wire.FieldMD5Checksum)
	if !wire.DigestsCompatible(c.decl.Digest, serverDigest) {
		conn.Close()
		return cos.Wrapf(cos.ErrHandshakeMismatch, "service %s: client md5=%s server md5=%s",
			c.decl.ID.Name, c.decl.Digest, serverDigest)
	}
	conn.SetDeadline(time.Time{})

	c.conn = conn
	c.alive = true
	c.pending = nil
	go c.readLoop(conn)
	return nil
}

// readLoop is the "Reader task" of spec §4.6: one length-prefixed
// frame + one status byte per response, matched to the pending deque
// head because the wire protocol never multiplexes.
func (c *Client) readLoop(conn net.Conn) {
	for {
		body, status, err := readStatusFrame(conn)
		if err != nil {
			c.failAll(cos.Wrapf(cos.ErrTransport, "read response: %v", err))
			return
		}
		cb, ok := c.popPending()
		if !ok {
			debug.Assert(false, "response with no pending callback")
			continue
		}
		if status == 1 {
			v, derr := c.resp.Deserialize(body)
			if derr != nil {
				cb(false, nil, derr.Error())
				continue
			}
			cb(true, v, "")
		} else {
			cb(false, nil, string(body))
		}
	}
}

func (c *Client) popPending() (Callback, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return nil, false
	}
	cb := c.pending[0]
	c.pending = c.pending[1:]
	return cb, true
}

// failAll fails every pending callback, in order, with err (spec §7:
// TRANSPORT_ERROR "fails all pending service callbacks on it").
func (c *Client) failAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	if c.conn != nil {
		c.conn.Close()
	}
	c.alive = false
	c.mu.Unlock()

	nlog.Warningf("service %s: connection failed, failing %d pending call(s): %v", c.decl.ID.Name, len(pending), err)
	for _, cb := range pending {
		cb(false, nil, err.Error())
	}
}

// Close tears down the connection, if any, failing any in-flight
// calls with CANCELLED.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.alive = false
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	for _, cb := range pending {
		cb(false, nil, cos.ErrCancelled.Error())
	}
}

//
// wire framing helpers shared by client and server
//

func writeFrame(w io.Writer, body []byte) error {
	var lb [4]byte
	binary.LittleEndian.PutUint32(lb[:], uint32(len(body)))
	if _, err := w.Write(lb[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
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

func writeStatusFrame(w io.Writer, status byte, body []byte) error {
	if _, err := w.Write([]byte{status}); err != nil {
		return err
	}
	return writeFrame(w, body)
}

func readStatusFrame(r io.Reader) (body []byte, status byte, err error) {
	var sb [1]byte
	if _, err = io.ReadFull(r, sb[:]); err != nil {
		return nil, 0, err
	}
	body, err = readFrame(r)
	return body, sb[0], err
}
