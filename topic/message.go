// Package topic implements the outgoing fan-out queue (C3, spec §4.3)
// and the incoming per-connection pipeline (C4, spec §4.4): the data
// path from a publisher's Put through the wire to a subscriber's
// listeners.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package topic

// Message is one delivered value: Raw is the wire bytes, Value is
// whatever the injected Codec.Deserialize produced from them.
type Message struct {
	Raw   []byte
	Value any
}

// Listener receives dispatched messages for one subscription (spec
// §4.4). Invocations for a given listener are serialized FIFO; a slow
// listener never blocks another listener or the dispatcher itself.
type Listener func(Message)
