package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscription) Change {
	t.Helper()
	select {
	case c := <-sub.Changes():
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func assertQuiet(t *testing.T, sub Subscription, wait time.Duration) {
	t.Helper()
	select {
	case c := <-sub.Changes():
		t.Fatalf("unexpected change: %+v", c)
	case <-time.After(wait):
	}
}

func TestMemoryHub_SharedData(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()
	defer hub.Close()

	a, err := hub.Open(ctx)
	require.NoError(t, err)
	b, err := hub.Open(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, a.Origin(), b.Origin())

	_, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Set(ctx, "k", "v1"))
	v, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", v)

	require.NoError(t, b.Remove(ctx, "k"))
	_, ok, err = a.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryHub_ChangesAreNotSelfObserved(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()
	defer hub.Close()

	a, _ := hub.Open(ctx)
	b, _ := hub.Open(ctx)

	subA, err := a.Subscribe(ctx)
	require.NoError(t, err)
	defer subA.Close()
	subB, err := b.Subscribe(ctx)
	require.NoError(t, err)
	defer subB.Close()

	require.NoError(t, a.Set(ctx, "typing-x", "alice"))

	c := receive(t, subB)
	assert.Equal(t, "typing-x", c.Key)
	assert.Equal(t, "alice", c.Value)
	assert.False(t, c.Deleted)
	assert.Equal(t, a.Origin(), c.Origin)
	assertQuiet(t, subA, 50*time.Millisecond)

	require.NoError(t, a.Remove(ctx, "typing-x"))
	c = receive(t, subB)
	assert.True(t, c.Deleted)
}

func TestMemoryHub_ClosedStore(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()
	a, _ := hub.Open(ctx)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	assert.ErrorIs(t, a.Set(ctx, "k", "v"), ErrClosed)
	_, err := a.Subscribe(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryHub_ClosedSubscriptionDoesNotBlockWriters(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()
	defer hub.Close()

	a, _ := hub.Open(ctx)
	b, _ := hub.Open(ctx)
	sub, err := b.Subscribe(ctx)
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriptionBuffer*2; i++ {
			_ = a.Set(ctx, "k", "v")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer blocked on a closed subscription")
	}
}

func TestMemoryHub_ObserversSeeWritesInStoredOrder(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()
	defer hub.Close()

	a, _ := hub.Open(ctx)
	b, _ := hub.Open(ctx)
	observer, _ := hub.Open(ctx)
	sub, err := observer.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	for round := 0; round < 200; round++ {
		start := make(chan struct{})
		done := make(chan struct{}, 2)
		for _, w := range []Store{a, b} {
			go func(w Store) {
				<-start
				_ = w.Set(ctx, "k", w.Origin())
				done <- struct{}{}
			}(w)
		}
		close(start)
		<-done
		<-done

		receive(t, sub)
		last := receive(t, sub)
		stored, ok, err := observer.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, stored, last.Value, "round %d: last observed change is not the stored value", round)
	}
}

func TestMemoryHub_Handles(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()
	defer hub.Close()

	a, _ := hub.Open(ctx)
	_, _ = hub.Open(ctx)
	assert.Equal(t, 2, hub.Handles())
	require.NoError(t, a.Close())
	assert.Equal(t, 1, hub.Handles())
}
