// Package registry implements the registration lifecycle (C7, spec
// §4.7): a background task that registers and unregisters a
// publisher, subscriber, or service-server against the master with
// exponential backoff, notifying listeners of each success and
// failure on the shared scheduler.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/gridswarm/corenode/cmn/atomic"
	"github.com/gridswarm/corenode/cmn/nlog"
	"github.com/gridswarm/corenode/rpcsvc"
)

const (
	backoffBase = time.Second
	backoffCap  = 30 * time.Second
)

// retries counts failed registration attempts across every Task in
// this process; Node.Metrics reports it as a point-in-time gauge.
var retries atomic.Uint64

// Retries returns the total number of failed registration attempts
// observed so far across every Task.
func Retries() uint64 { return retries.Load() }

// Listener is notified of registration lifecycle events. result is
// nil on success.
type Listener func(result error)

// RegisterFunc performs one registration attempt against the master
// and returns whatever the registrant needs from a successful
// response (e.g. a subscriber's initial publisher list), or an error.
type RegisterFunc func(ctx context.Context) (any, error)

// UnregisterFunc performs one unregistration attempt.
type UnregisterFunc func(ctx context.Context) error

// Task drives one registrant's lifecycle: register-with-retry, then
// idle until Unregister is called or the task is stopped.
type Task struct {
	register   RegisterFunc
	unregister UnregisterFunc
	sched      rpcsvc.Scheduler
	key        string // scheduling key: one lane per registrant

	onResult func(any) // invoked with the register response on first success

	mu        sync.Mutex
	listeners map[string]Listener
	cancel    context.CancelFunc
	done      chan struct{}
	registered bool
}

// NewTask starts registering immediately in the background. onResult,
// if non-nil, is invoked once with RegisterFunc's success value (for
// subscribers: the initial publisher slave-URI list handed to
// discover.Manager as the first target set).
func NewTask(key string, register RegisterFunc, unregister UnregisterFunc, sched rpcsvc.Scheduler, onResult func(any)) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		register:   register,
		unregister: unregister,
		sched:      sched,
		key:        key,
		onResult:   onResult,
		listeners:  make(map[string]Listener),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go t.run(ctx)
	return t
}

func (t *Task) run(ctx context.Context) {
	defer close(t.done)
	backoff := backoffBase
	for {
		result, err := t.register(ctx)
		if err == nil {
			t.mu.Lock()
			t.registered = true
			t.mu.Unlock()
			if t.onResult != nil {
				t.onResult(result)
			}
			t.notify(nil)
			return
		}
		retries.Inc()
		nlog.Warningf("registry: registration failed for %s, retrying in %s: %v", t.key, backoff, err)
		t.notify(err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
	}
}

// AddListener registers l under id for future success/failure events.
func (t *Task) AddListener(id string, l Listener) {
	t.mu.Lock()
	t.listeners[id] = l
	t.mu.Unlock()
}

func (t *Task) RemoveListener(id string) {
	t.mu.Lock()
	delete(t.listeners, id)
	t.mu.Unlock()
}

func (t *Task) notify(result error) {
	t.mu.Lock()
	snapshot := make(map[string]Listener, len(t.listeners))
	for id, l := range t.listeners {
		snapshot[id] = l
	}
	t.mu.Unlock()

	for id, l := range snapshot {
		l := l
		t.sched.Schedule(t.key+"/"+id, func() { l(result) })
	}
}

// IsRegistered reports whether the registration attempt has succeeded.
func (t *Task) IsRegistered() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registered
}

// Unregister cancels any in-flight registration attempt and, if the
// registration ever succeeded, calls the master's unregister endpoint,
// mirroring success/failure to listeners (spec §4.7).
func (t *Task) Unregister(ctx context.Context) error {
	t.cancel()
	<-t.done

	t.mu.Lock()
	wasRegistered := t.registered
	t.mu.Unlock()
	if !wasRegistered {
		return nil
	}

	err := t.unregister(ctx)
	t.notify(err)
	return err
}
