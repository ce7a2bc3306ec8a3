// Package atomic provides thin typed wrappers around sync/atomic so
// call sites read as method calls (x.Inc(), x.Load()) instead of
// atomic.AddInt64(&x, 1) boilerplate, matching the teacher's house
// style (see transport/bundle: robin.i.Inc()).
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package atomic

import "sync/atomic"

type Int64 struct{ v int64 }

func (x *Int64) Load() int64          { return atomic.LoadInt64(&x.v) }
func (x *Int64) Store(n int64)        { atomic.StoreInt64(&x.v, n) }
func (x *Int64) Add(d int64) int64    { return atomic.AddInt64(&x.v, d) }
func (x *Int64) Inc() int64           { return x.Add(1) }
func (x *Int64) Dec() int64           { return x.Add(-1) }
func (x *Int64) CAS(old, new int64) bool { return atomic.CompareAndSwapInt64(&x.v, old, new) }

type Uint64 struct{ v uint64 }

func (x *Uint64) Load() uint64       { return atomic.LoadUint64(&x.v) }
func (x *Uint64) Store(n uint64)     { atomic.StoreUint64(&x.v, n) }
func (x *Uint64) Add(d uint64) uint64 { return atomic.AddUint64(&x.v, d) }
func (x *Uint64) Inc() uint64        { return x.Add(1) }

type Uint32 struct{ v uint32 }

func (x *Uint32) Load() uint32       { return atomic.LoadUint32(&x.v) }
func (x *Uint32) Store(n uint32)     { atomic.StoreUint32(&x.v, n) }
func (x *Uint32) Add(d uint32) uint32 { return atomic.AddUint32(&x.v, d) }
func (x *Uint32) Inc() uint32        { return x.Add(1) }

type Bool struct{ v uint32 }

func (x *Bool) Load() bool {
	return atomic.LoadUint32(&x.v) != 0
}

func (x *Bool) Store(b bool) {
	var n uint32
	if b {
		n = 1
	}
	atomic.StoreUint32(&x.v, n)
}

// CAS sets the value to newVal iff the current value equals oldVal.
func (x *Bool) CAS(oldVal, newVal bool) bool {
	var o, n uint32
	if oldVal {
		o = 1
	}
	if newVal {
		n = 1
	}
	return atomic.CompareAndSwapUint32(&x.v, o, n)
}
