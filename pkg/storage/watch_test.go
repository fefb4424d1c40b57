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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchablePublishesWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatchable(NewMemory(), 0)
	defer w.Close()

	ch, err := w.Subscribe(ctx, "entries/")
	require.NoError(t, err)

	require.NoError(t, w.Put("entries/a", []byte("1"), nil))
	require.NoError(t, w.Put("other", []byte("ignored"), nil))
	require.NoError(t, w.Delete("entries/a"))

	ev := recv(t, ch)
	assert.Equal(t, EventPut, ev.Type)
	assert.Equal(t, "entries/a", ev.Key)
	assert.Equal(t, []byte("1"), ev.Value)

	ev = recv(t, ch)
	assert.Equal(t, EventDelete, ev.Type)
	assert.Equal(t, "entries/a", ev.Key)
}

func TestWatchableUpdatePublishesOnCommitOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatchable(NewMemory(), 0)
	defer w.Close()

	ch, err := w.Subscribe(ctx, "")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = w.Update(func(tx Txn) error {
		require.NoError(t, tx.Put("rolled-back", []byte("x")))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, w.Update(func(tx Txn) error {
		if err := tx.Put("a", []byte("1")); err != nil {
			return err
		}
		return tx.Put("b", []byte("2"))
	}))

	assert.Equal(t, "a", recv(t, ch).Key)
	assert.Equal(t, "b", recv(t, ch).Key)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestWatchableFailedWriteNotPublished(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatchable(NewMemory(), 0)
	defer w.Close()

	ch, err := w.Subscribe(ctx, "")
	require.NoError(t, err)

	assert.ErrorIs(t, w.Delete("missing"), ErrNotFound)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestWatchableSlowSubscriberGetsResync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatchable(NewMemory(), 2)
	defer w.Close()

	ch, err := w.Subscribe(ctx, "")
	require.NoError(t, err)

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, w.Put(k, []byte(k), nil))
	}
	// c overflowed: a was dropped and a resync queued behind b, with no
	// further write needed to deliver it.
	assert.Equal(t, "b", recv(t, ch).Key)
	assert.Equal(t, EventResync, recv(t, ch).Type)
	assertNoEvent(t, ch)

	require.NoError(t, w.Put("d", []byte("d"), nil))
	assert.Equal(t, "d", recv(t, ch).Key)
}

func TestWatchableOverflowQueuesSingleResync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatchable(NewMemory(), 1)
	defer w.Close()

	ch, err := w.Subscribe(ctx, "k")
	require.NoError(t, err)

	for _, v := range []string{"v1", "v2", "v3", "v4"} {
		require.NoError(t, w.Put("k", []byte(v), nil))
	}
	ev := recv(t, ch)
	assert.Equal(t, EventResync, ev.Type)
	assert.Equal(t, "k", ev.Key)
	assertNoEvent(t, ch)

	got, err := w.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v4", string(got))
}

func TestWatchableUnsubscribeOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWatchable(NewMemory(), 0)
	defer w.Close()

	ch, err := w.Subscribe(ctx, "")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}

	// Writes after unsubscribe must not panic.
	require.NoError(t, w.Put("k", []byte("v"), nil))
}

func TestWatchableClose(t *testing.T) {
	w := NewWatchable(NewMemory(), 0)
	ch, err := w.Subscribe(context.Background(), "")
	require.NoError(t, err)

	require.NoError(t, w.Close())
	_, ok := <-ch
	assert.False(t, ok)

	_, err = w.Subscribe(context.Background(), "")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWatchableCloseStopsWatchers(t *testing.T) {
	w := NewWatchable(NewMemory(), 0)
	for i := 0; i < 3; i++ {
		_, err := w.Subscribe(context.Background(), "")
		require.NoError(t, err)
	}

	done := make(chan struct{})
	go func() {
		_ = w.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}

	// Every watcher has exited, so the wait returns immediately.
	w.wg.Wait()
	w.mu.Lock()
	assert.Empty(t, w.subs)
	w.mu.Unlock()
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "put", EventPut.String())
	assert.Equal(t, "delete", EventDelete.String())
	assert.Equal(t, "resync", EventResync.String())
	assert.Equal(t, "unknown", EventType(9).String())
}
