// Package codec defines the serializer/deserializer seam spec §1
// leaves external ("message schema generation and reflection ... are
// injected into the core"). Both the topic pipeline (C3/C4) and the
// service pipeline (C6) take one of these per declared type; this
// module never reaches into a message's fields itself.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package codec

// Codec serializes/deserializes exactly one message or request/response
// type. Callers supply one per topic or service declaration; this
// module treats message bodies as opaque []byte outside of it.
type Codec struct {
	Serialize   func(v any) ([]byte, error)
	Deserialize func(b []byte) (any, error)
}
