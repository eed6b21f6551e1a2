package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type summary struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

func TestPublisherEncodesSummaries(t *testing.T) {
	t.Parallel()

	pub := New()
	id, err := pub.Publish(context.Background(), "ingest-runs", summary{RunID: "r1", Status: "success"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)
	id, err = pub.Publish(context.Background(), "ingest-runs", summary{RunID: "r2", Status: "error"})
	require.NoError(t, err)
	require.Equal(t, "memory-2", id)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.JSONEq(t, `{"run_id":"r1","status":"success"}`, string(msgs[0].Data))

	last, ok := pub.Last()
	require.True(t, ok)
	var got summary
	require.NoError(t, last.Decode(&got))
	require.Equal(t, summary{RunID: "r2", Status: "error"}, got)
}

func TestPublisherRejectsCanceledContextAndBadPayload(t *testing.T) {
	t.Parallel()

	pub := New()
	_, ok := pub.Last()
	require.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pub.Publish(ctx, "ingest-runs", summary{})
	require.ErrorIs(t, err, context.Canceled)

	_, err = pub.Publish(context.Background(), "ingest-runs", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
	require.Empty(t, pub.Messages())
}
