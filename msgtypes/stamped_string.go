// Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
package msgtypes

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/gridswarm/corenode/codec"
	"github.com/gridswarm/corenode/ident"
)

// StampedStringMsg is std_msgs/String's header-carrying sibling: a
// Header followed by one string field, the layout E3 drives its
// monotonic sequence/timestamp check against.
type StampedStringMsg struct {
	Header Header
	Data   string
}

func (m *StampedStringMsg) SetHeader(h Header) { m.Header = h }
func (m *StampedStringMsg) GetHeader() Header   { return m.Header }

const stampedStringTypeName = "std_msgs/StampedString"
const stampedStringTypeDef = "Header header\nstring data\n"

var stampedStringDigest = func() string {
	sum := md5.Sum([]byte(stampedStringTypeDef))
	return hex.EncodeToString(sum[:])
}()

// StampedStringCodec lays the header out as two little-endian uint64s
// (seq, stamp) ahead of the raw string payload.
var StampedStringCodec = codec.Codec{
	Serialize: func(v any) ([]byte, error) {
		var m StampedStringMsg
		switch t := v.(type) {
		case StampedStringMsg:
			m = t
		case *StampedStringMsg:
			m = *t
		default:
			return nil, errUnsupported
		}
		buf := make([]byte, 16+len(m.Data))
		binary.LittleEndian.PutUint64(buf[0:8], m.Header.Seq)
		binary.LittleEndian.PutUint64(buf[8:16], uint64(m.Header.Stamp))
		copy(buf[16:], m.Data)
		return buf, nil
	},
	Deserialize: func(b []byte) (any, error) {
		if len(b) < 16 {
			return nil, fmt.Errorf("msgtypes: StampedStringMsg frame too short: %d bytes", len(b))
		}
		seq := binary.LittleEndian.Uint64(b[0:8])
		stamp := int64(binary.LittleEndian.Uint64(b[8:16]))
		return StampedStringMsg{Header: Header{Seq: seq, Stamp: stamp}, Data: string(b[16:])}, nil
	},
}

// StampedStringTopicDecl builds the topic declaration for name using
// the header-carrying string type.
func StampedStringTopicDecl(name ident.Name) ident.TopicDecl {
	return ident.TopicDecl{
		ID:             ident.TopicID{Name: name},
		TypeName:       stampedStringTypeName,
		TypeDefinition: stampedStringTypeDef,
		Digest:         stampedStringDigest,
	}
}
