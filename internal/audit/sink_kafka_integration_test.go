//go:build integration

package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	id "consentry/pkg/domain"
	"consentry/pkg/testutil/containers"
)

func TestKafkaSinkIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	rp := containers.NewRedpandaContainer(t)

	const topic = "consentry.audit.test"
	sink, err := NewKafkaSink([]string{rp.Broker}, topic)
	require.NoError(t, err)
	defer sink.Close()

	patient := id.NewIdentity()
	sent := Event{
		ID:        uuid.New(),
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Action:    ActionAccessGranted,
		RecordID:  7,
		Actor:     patient,
		Owner:     patient,
	}
	require.NoError(t, sink.Publish(ctx, sent))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(rp.Broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	fetches := consumer.PollFetches(fetchCtx)
	require.NoError(t, fetches.Err())

	records := fetches.Records()
	require.Len(t, records, 1)
	assert.Equal(t, sent.RecordID.String(), string(records[0].Key))

	var got Event
	require.NoError(t, json.Unmarshal(records[0].Value, &got))
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, sent.Action, got.Action)
	assert.Equal(t, patient, got.Actor)
}
