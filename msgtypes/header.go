// Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
package msgtypes

// Header is the optional per-message envelope a message type embeds
// to participate in sequence/timestamp stamping (spec §1's injected
// clock source, exercised by E3's monotonic-header property).
type Header struct {
	Seq   uint64
	Stamp int64 // nanoseconds from mono.Clock.NanoTime, monotonic only within a process
}

// Stamped is implemented by message types that carry a Header; a
// Publisher stamps a fresh Header on every Publish call for any value
// satisfying this interface.
type Stamped interface {
	SetHeader(Header)
	GetHeader() Header
}
