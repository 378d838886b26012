package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	id "consentry/pkg/domain"
)

// DefaultStream is the Redis stream key holding the audit trail.
const DefaultStream = "consentry:audit"

// RedisStore keeps the audit trail in a Redis stream. Streams give us exactly
// the contract the trail needs: append-only, totally ordered, durable under
// AOF persistence. Queries read the stream and filter client-side; the trail
// is a compliance surface, not a hot path.
type RedisStore struct {
	client *redis.Client
	stream string
}

func NewRedisStore(client *redis.Client, stream string) *RedisStore {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStore{client: client, stream: stream}
}

func (s *RedisStore) Append(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{"event": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("append audit event to stream: %w", err)
	}
	return nil
}

func (s *RedisStore) ListByRecord(ctx context.Context, recordID id.RecordID) ([]Event, error) {
	return s.list(ctx, func(e Event) bool { return e.RecordID == recordID })
}

func (s *RedisStore) ListByIdentity(ctx context.Context, identity id.Identity) ([]Event, error) {
	return s.list(ctx, func(e Event) bool { return e.Touches(identity) })
}

func (s *RedisStore) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	messages, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("read audit stream: %w", err)
	}
	events := make([]Event, 0, len(messages))
	// XRevRange returns newest first; restore append order.
	for i := len(messages) - 1; i >= 0; i-- {
		event, err := decodeMessage(messages[i])
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func (s *RedisStore) list(ctx context.Context, keep func(Event) bool) ([]Event, error) {
	messages, err := s.client.XRange(ctx, s.stream, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("read audit stream: %w", err)
	}
	var events []Event
	for _, msg := range messages {
		event, err := decodeMessage(msg)
		if err != nil {
			return nil, err
		}
		if keep(event) {
			events = append(events, event)
		}
	}
	return events, nil
}

func decodeMessage(msg redis.XMessage) (Event, error) {
	raw, ok := msg.Values["event"].(string)
	if !ok {
		return Event{}, fmt.Errorf("audit stream entry %s has no event payload", msg.ID)
	}
	var event Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return Event{}, fmt.Errorf("decode audit event %s: %w", msg.ID, err)
	}
	return event, nil
}
