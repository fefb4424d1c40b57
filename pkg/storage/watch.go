// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-encstore.
//
// go-encstore is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package storage

import (
	"context"
	"strings"
	"sync"
)

// EventType identifies the kind of a change Event.
type EventType int

const (
	// EventPut is emitted after a key is written.
	EventPut EventType = iota
	// EventDelete is emitted after a key is removed.
	EventDelete
	// EventResync is queued for a subscriber whose channel overflowed,
	// in place of its oldest pending event. The subscriber should re-read
	// the keys it cares about.
	EventResync
)

func (t EventType) String() string {
	switch t {
	case EventPut:
		return "put"
	case EventDelete:
		return "delete"
	case EventResync:
		return "resync"
	default:
		return "unknown"
	}
}

// Event describes a committed change.
type Event struct {
	Type  EventType
	Key   string
	Value []byte
}

// DefaultSubscriberBuffer is the channel capacity of each subscription.
const DefaultSubscriberBuffer = 64

type subscriber struct {
	prefix string
	ch     chan Event
	// resyncQueued is set while the newest queued event is an EventResync.
	resyncQueued bool
}

// Watchable decorates a Backend with a change stream. All writes must go
// through the Watchable for subscribers to observe them. Events are
// delivered in commit order. Writers never block on a full subscriber:
// its oldest pending event is dropped and an EventResync is queued at the
// tail, so the subscriber learns of the loss without waiting for another
// write.
type Watchable struct {
	Backend

	// mu serializes writes with publication so events keep commit order.
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	buffer int
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewWatchable wraps b. A non-positive buffer selects
// DefaultSubscriberBuffer.
func NewWatchable(b Backend, buffer int) *Watchable {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Watchable{
		Backend: b,
		subs:    make(map[*subscriber]struct{}),
		buffer:  buffer,
		done:    make(chan struct{}),
	}
}

// Subscribe returns a channel of events for keys starting with prefix.
// The channel is closed when ctx is done or the Watchable is closed.
func (w *Watchable) Subscribe(ctx context.Context, prefix string) (<-chan Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrClosed
	}

	sub := &subscriber{prefix: prefix, ch: make(chan Event, w.buffer)}
	w.subs[sub] = struct{}{}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case <-ctx.Done():
		case <-w.done:
		}
		w.unsubscribe(sub)
	}()
	return sub.ch, nil
}

func (w *Watchable) unsubscribe(sub *subscriber) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.subs[sub]; ok {
		delete(w.subs, sub)
		close(sub.ch)
	}
}

// Put writes through and publishes an EventPut.
func (w *Watchable) Put(key string, value []byte, opts *Options) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.Backend.Put(key, value, opts); err != nil {
		return err
	}
	w.publish(Event{Type: EventPut, Key: key, Value: append([]byte{}, value...)})
	return nil
}

// Delete removes through and publishes an EventDelete.
func (w *Watchable) Delete(key string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.Backend.Delete(key); err != nil {
		return err
	}
	w.publish(Event{Type: EventDelete, Key: key})
	return nil
}

// Update runs fn in the underlying transaction and publishes its writes
// after a successful commit.
func (w *Watchable) Update(fn func(tx Txn) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var events []Event
	err := w.Backend.Update(func(tx Txn) error {
		events = events[:0]
		return fn(&recordingTxn{Txn: tx, events: &events})
	})
	if err != nil {
		return err
	}
	for _, ev := range events {
		w.publish(ev)
	}
	return nil
}

// Close closes every subscription, waits for their watchers to exit and
// closes the underlying backend.
func (w *Watchable) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.done)
		for sub := range w.subs {
			delete(w.subs, sub)
			close(sub.ch)
		}
	}
	w.mu.Unlock()
	w.wg.Wait()
	return w.Backend.Close()
}

// publish must be called with w.mu held.
func (w *Watchable) publish(ev Event) {
	for sub := range w.subs {
		if !strings.HasPrefix(ev.Key, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- ev:
			sub.resyncQueued = false
			continue
		default:
		}
		// An unread resync at the tail already covers ev.
		if sub.resyncQueued {
			continue
		}
		// Only publish sends on sub.ch and w.mu is held, so after
		// freeing a slot the resync always fits.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- Event{Type: EventResync, Key: sub.prefix}:
			sub.resyncQueued = true
		default:
		}
	}
}

// recordingTxn captures successful writes made inside Update.
type recordingTxn struct {
	Txn
	events *[]Event
}

func (r *recordingTxn) Put(key string, value []byte) error {
	if err := r.Txn.Put(key, value); err != nil {
		return err
	}
	*r.events = append(*r.events, Event{Type: EventPut, Key: key, Value: append([]byte{}, value...)})
	return nil
}

func (r *recordingTxn) Delete(key string) error {
	if err := r.Txn.Delete(key); err != nil {
		return err
	}
	*r.events = append(*r.events, Event{Type: EventDelete, Key: key})
	return nil
}
