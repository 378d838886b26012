package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "consentry/pkg/domain"
	"consentry/pkg/requestcontext"
)

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	patient := id.NewIdentity()
	provider := id.NewIdentity()
	other := id.NewIdentity()

	events := []Event{
		{ID: uuid.New(), Action: ActionRecordCreated, RecordID: 1, Actor: patient, Owner: patient},
		{ID: uuid.New(), Action: ActionAccessGranted, RecordID: 1, Actor: patient, Owner: patient, Party: provider},
		{ID: uuid.New(), Action: ActionRecordCreated, RecordID: 2, Actor: other, Owner: other},
	}
	for _, e := range events {
		require.NoError(t, store.Append(ctx, e))
	}

	t.Run("ListByRecord preserves append order", func(t *testing.T) {
		got, err := store.ListByRecord(ctx, 1)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, ActionRecordCreated, got[0].Action)
		assert.Equal(t, ActionAccessGranted, got[1].Action)
	})

	t.Run("ListByIdentity matches actor owner and party", func(t *testing.T) {
		got, err := store.ListByIdentity(ctx, provider)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, ActionAccessGranted, got[0].Action)

		got, err = store.ListByIdentity(ctx, patient)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("ListRecent keeps the last events in append order", func(t *testing.T) {
		got, err := store.ListRecent(ctx, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, ActionAccessGranted, got[0].Action)
		assert.Equal(t, id.RecordID(2), got[1].RecordID)
	})

	t.Run("ListRecent clamps out-of-range limits", func(t *testing.T) {
		got, err := store.ListRecent(ctx, -1)
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = store.ListRecent(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = store.ListRecent(ctx, 100)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, events[0].ID, got[0].ID)
		assert.Equal(t, events[2].ID, got[2].ID)
	})

	t.Run("unknown identity yields empty trail", func(t *testing.T) {
		got, err := store.ListByIdentity(ctx, id.NewIdentity())
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestPublisherEmit(t *testing.T) {
	patient := id.NewIdentity()

	t.Run("fills id timestamp and request id from context", func(t *testing.T) {
		store := NewInMemoryStore()
		publisher := NewPublisher(store)

		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		ctx := requestcontext.WithTime(context.Background(), now)
		ctx = requestcontext.WithRequestID(ctx, "req-123")

		require.NoError(t, publisher.Emit(ctx, Event{Action: ActionRecordCreated, RecordID: 7, Actor: patient}))

		events, err := store.ListByRecord(ctx, 7)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.NotEqual(t, uuid.Nil, events[0].ID)
		assert.Equal(t, now, events[0].Timestamp)
		assert.Equal(t, "req-123", events[0].RequestID)
	})

	t.Run("forwards to the sink without blocking when full", func(t *testing.T) {
		store := NewInMemoryStore()
		sink := make(chan Event, 1)
		publisher := NewPublisherWithSink(store, sink)

		ctx := context.Background()
		require.NoError(t, publisher.Emit(ctx, Event{Action: ActionRecordCreated, RecordID: 1, Actor: patient}))
		// Channel now full; the second emit must still succeed.
		require.NoError(t, publisher.Emit(ctx, Event{Action: ActionRecordUpdated, RecordID: 1, Actor: patient}))

		assert.Equal(t, 2, store.Len(), "the store is the source of truth regardless of sink pressure")
		assert.Len(t, sink, 1)
	})
}

func TestEventTouches(t *testing.T) {
	patient := id.NewIdentity()
	provider := id.NewIdentity()

	e := Event{Actor: patient, Owner: patient, Party: provider}
	assert.True(t, e.Touches(patient))
	assert.True(t, e.Touches(provider))
	assert.False(t, e.Touches(id.NewIdentity()))
}

type captureSink struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (c *captureSink) Publish(_ context.Context, event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broker unavailable")
	}
	c.events = append(c.events, event)
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestWorker(t *testing.T) {
	t.Run("drains the inbox into the sink", func(t *testing.T) {
		sink := &captureSink{}
		inbox := make(chan Event, 4)
		worker := NewWorker(sink, inbox, slog.New(slog.DiscardHandler))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = worker.Run(ctx)
		}()

		inbox <- Event{ID: uuid.New(), Action: ActionRecordCreated}
		inbox <- Event{ID: uuid.New(), Action: ActionAccessGranted}

		require.Eventually(t, func() bool { return sink.count() == 2 },
			time.Second, 10*time.Millisecond)

		cancel()
		<-done
	})

	t.Run("a failing sink does not stop the worker", func(t *testing.T) {
		sink := &captureSink{fail: true}
		inbox := make(chan Event, 4)
		worker := NewWorker(sink, inbox, slog.New(slog.DiscardHandler))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = worker.Run(ctx)
		}()

		inbox <- Event{ID: uuid.New(), Action: ActionRecordCreated}

		require.Eventually(t, func() bool { return len(inbox) == 0 },
			time.Second, 10*time.Millisecond)
		assert.Equal(t, 0, sink.count())

		cancel()
		<-done
	})
}
