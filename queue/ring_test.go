// Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
package queue_test

import (
	"context"
	"time"

	"github.com/gridswarm/corenode/queue"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Ring", func() {
	It("drops the oldest element on overflow (testable property #2)", func() {
		r := queue.New(3)
		for i := 1; i <= 5; i++ {
			r.Put(i)
		}
		Expect(r.Len()).To(Equal(3))
		ctx := context.Background()
		var got []int
		for i := 0; i < 3; i++ {
			v, ok := r.Take(ctx)
			Expect(ok).To(BeTrue())
			got = append(got, v.(int))
		}
		Expect(got).To(Equal([]int{3, 4, 5}))
	})

	It("delivers Put order exactly-once when a consumer never falls behind (testable property #1)", func() {
		r := queue.New(8)
		ctx := context.Background()
		done := make(chan []int, 1)
		go func() {
			var out []int
			for i := 0; i < 4; i++ {
				v, ok := r.Take(ctx)
				if !ok {
					break
				}
				out = append(out, v.(int))
			}
			done <- out
		}()
		time.Sleep(10 * time.Millisecond) // let the consumer block on an empty ring
		r.Put(1)
		r.Put(2)
		r.Put(3)
		r.Put(4)
		Eventually(done, time.Second).Should(Receive(Equal([]int{1, 2, 3, 4})))
	})

	It("Take is exactly-once per element under concurrent consumers", func() {
		r := queue.New(64)
		for i := 0; i < 50; i++ {
			r.Put(i)
		}
		results := make(chan int, 50)
		ctx := context.Background()
		for w := 0; w < 5; w++ {
			go func() {
				for {
					v, ok := r.Take(ctx)
					if !ok {
						return
					}
					results <- v.(int)
				}
			}()
		}
		seen := map[int]bool{}
		for i := 0; i < 50; i++ {
			select {
			case v := <-results:
				Expect(seen[v]).To(BeFalse(), "duplicate delivery of %d", v)
				seen[v] = true
			case <-time.After(time.Second):
				Fail("timed out waiting for deliveries")
			}
		}
	})

	It("unblocks Take on context cancellation", func() {
		r := queue.New(1)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan bool, 1)
		go func() {
			_, ok := r.Take(ctx)
			done <- ok
		}()
		time.Sleep(10 * time.Millisecond)
		cancel()
		Eventually(done, time.Second).Should(Receive(BeFalse()))
	})

	It("SetLimit drops the oldest elements to fit a smaller capacity", func() {
		r := queue.New(5)
		for i := 1; i <= 5; i++ {
			r.Put(i)
		}
		r.SetLimit(2)
		Expect(r.Len()).To(Equal(2))
		ctx := context.Background()
		v1, _ := r.Take(ctx)
		v2, _ := r.Take(ctx)
		Expect([]int{v1.(int), v2.(int)}).To(Equal([]int{4, 5}))
	})

	It("unblocks Take when cancellation races the call with no settling delay", func() {
		// Regression test for a lost-wakeup: without a 10ms sleep before
		// cancel(), Take has a real chance of being cancelled in the
		// window between checking ctx.Err() and parking in cond.Wait(),
		// which a delayed cancel() would never exercise.
		for i := 0; i < 200; i++ {
			r := queue.New(1)
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan bool, 1)
			go func() {
				_, ok := r.Take(ctx)
				done <- ok
			}()
			cancel()
			Eventually(done, time.Second).Should(Receive(BeFalse()))
		}
	})

	It("wakes blocked takers and drains on Close", func() {
		r := queue.New(2)
		ctx := context.Background()
		done := make(chan bool, 1)
		go func() {
			_, ok := r.Take(ctx)
			done <- ok
		}()
		time.Sleep(10 * time.Millisecond)
		r.Close()
		Eventually(done, time.Second).Should(Receive(BeFalse()))
	})
})
