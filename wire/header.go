// Package wire implements the connection-header codec (spec §4.2): the
// length-prefixed key=value handshake block shared by the topic and
// service wire protocols (spec §6). The byte layout mirrors the
// teacher's length-prefixed frame style in transport/pdu.go, adapted
// from a single binary PDU to a repeated field list.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/gridswarm/corenode/cmn/cos"
)

// Mandatory and optional header field names (spec §6).
const (
	FieldCallerID           = "callerid"
	FieldTopic              = "topic"
	FieldService            = "service"
	FieldType               = "type"
	FieldMD5Checksum        = "md5sum"
	FieldMessageDefinition  = "message_definition"
	FieldLatching           = "latching"
	FieldTCPNoDelay         = "tcp_nodelay"
	FieldPersistent         = "persistent"
	FieldCompression        = "x-lz4"
	wildcardDigest          = "*"
)

// Field is one key=value pair; Header preserves insertion order since
// the wire form iterates fields in the order they were added (spec
// §3: "ordered-insertion mapping").
type Field struct {
	Key, Value string
}

// Header is an ordered-insertion key=value mapping. The zero value is
// usable.
type Header struct {
	fields []Field
	index  map[string]int
}

func NewHeader() *Header {
	return &Header{index: make(map[string]int, 8)}
}

// Set adds or overwrites key=value, preserving the original position
// on overwrite so re-setting a field doesn't reorder the header.
func (h *Header) Set(key, value string) {
	if h.index == nil {
		h.index = make(map[string]int, 8)
	}
	if i, ok := h.index[key]; ok {
		h.fields[i].Value = value
		return
	}
	h.index[key] = len(h.fields)
	h.fields = append(h.fields, Field{Key: key, Value: value})
}

func (h *Header) Get(key string) (string, bool) {
	i, ok := h.index[key]
	if !ok {
		return "", false
	}
	return h.fields[i].Value, true
}

func (h *Header) Fields() []Field { return h.fields }

// RequireAll returns cos.ErrMalformedHeader-kinded error naming the
// first missing mandatory field.
func (h *Header) RequireAll(keys ...string) error {
	for _, k := range keys {
		if _, ok := h.Get(k); !ok {
			return cos.Wrapf(cos.ErrMalformedHeader, "missing required field %q", k)
		}
	}
	return nil
}

// DigestsCompatible implements spec §4.5/§4.6's handshake rule: the
// only acceptable outcomes are an exact digest match or a wildcard on
// either side.
func DigestsCompatible(a, b string) bool {
	return a == b || a == wildcardDigest || b == wildcardDigest
}

// Encode produces the wire form: u32-LE total length, then for each
// field a u32-LE length followed by "key=value" UTF-8 bytes.
func Encode(h *Header) []byte {
	var body []byte
	for _, f := range h.fields {
		kv := f.Key + "=" + f.Value
		var lb [4]byte
		binary.LittleEndian.PutUint32(lb[:], uint32(len(kv)))
		body = append(body, lb[:]...)
		body = append(body, kv...)
	}
	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(body)))
	copy(out[4:], body)
	return out
}

// Decode parses the wire form produced by Encode. Returns
// cos.ErrMalformedHeader (wrapped with detail) on any of the failure
// conditions named in spec §4.2.
func Decode(b []byte) (*Header, error) {
	if len(b) < 4 {
		return nil, cos.Wrapf(cos.ErrMalformedHeader, "short buffer: %d bytes", len(b))
	}
	total := binary.LittleEndian.Uint32(b[:4])
	body := b[4:]
	if uint32(len(body)) != total {
		return nil, cos.Wrapf(cos.ErrMalformedHeader, "length mismatch: header says %d, got %d", total, len(body))
	}
	h := NewHeader()
	off := 0
	for off < len(body) {
		if off+4 > len(body) {
			return nil, cos.Wrapf(cos.ErrMalformedHeader, "truncated field length prefix at offset %d", off)
		}
		flen := int(binary.LittleEndian.Uint32(body[off : off+4]))
		off += 4
		if flen < 0 || off+flen > len(body) {
			return nil, cos.Wrapf(cos.ErrMalformedHeader, "field length %d exceeds remaining %d bytes", flen, len(body)-off)
		}
		kv := string(body[off : off+flen])
		off += flen
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			return nil, cos.Wrapf(cos.ErrMalformedHeader, "field %q has no '='", kv)
		}
		key, val := kv[:eq], kv[eq+1:]
		if _, dup := h.Get(key); dup {
			return nil, cos.Wrapf(cos.ErrMalformedHeader, "duplicate key %q", key)
		}
		h.Set(key, val)
	}
	return h, nil
}

// ReadFrom reads one length-prefixed header block from r: first the
// u32-LE total length, then that many body bytes, then decodes it.
func ReadFrom(r io.Reader) (*Header, error) {
	var lb [4]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return nil, cos.Wrapf(cos.ErrTransport, "read header length: %v", err)
	}
	total := binary.LittleEndian.Uint32(lb[:])
	const maxHeader = 1 << 20
	if total > maxHeader {
		return nil, cos.Wrapf(cos.ErrMalformedHeader, "header too large: %d bytes", total)
	}
	body := make([]byte, total)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, cos.Wrapf(cos.ErrTransport, "read header body: %v", err)
	}
	full := make([]byte, 4+len(body))
	copy(full, lb[:])
	copy(full[4:], body)
	return Decode(full)
}

// WriteTo writes h to w in the same form ReadFrom expects.
func WriteTo(w io.Writer, h *Header) error {
	if _, err := w.Write(Encode(h)); err != nil {
		return cos.Wrapf(cos.ErrTransport, "write header: %v", err)
	}
	return nil
}

func (h *Header) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range h.fields {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%s", f.Key, f.Value)
	}
	b.WriteByte('}')
	return b.String()
}
