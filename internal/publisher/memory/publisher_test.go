package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type payload struct {
	SessionID string `json:"session_id"`
	Products  int    `json:"products"`
}

func TestPublisherGroupsByEvent(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	id1, err := pub.Publish(ctx, "analysis.completed", payload{SessionID: "s1", Products: 6})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(ctx, "analysis.failed", payload{SessionID: "s2"})
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)
	_, err = pub.Publish(ctx, "analysis.completed", payload{SessionID: "s3", Products: 2})
	require.NoError(t, err)

	require.Len(t, pub.Messages(), 3)
	require.Equal(t, 2, pub.Count("analysis.completed"))
	require.Equal(t, 1, pub.Count("analysis.failed"))
	require.Zero(t, pub.Count("analysis.unknown"))
	require.Empty(t, pub.MessagesFor("analysis.unknown"))

	completed := pub.MessagesFor("analysis.completed")
	require.Len(t, completed, 2)
	var got payload
	require.NoError(t, completed[1].Decode(&got))
	require.Equal(t, payload{SessionID: "s3", Products: 2}, got)
	require.Equal(t, "memory-3", completed[1].ID)
}

func TestPublisherEncodesLikeTheWire(t *testing.T) {
	t.Parallel()

	pub := New()
	msgID, err := pub.Publish(context.Background(), "analysis.completed", payload{SessionID: "s1"})
	require.NoError(t, err)
	msg := pub.MessagesFor("analysis.completed")[0]
	require.Equal(t, msgID, msg.ID)
	require.JSONEq(t, `{"session_id":"s1","products":0}`, string(msg.Data))

	_, err = pub.Publish(context.Background(), "analysis.completed", func() {})
	require.ErrorContains(t, err, "marshal payload")
	_, err = pub.Publish(context.Background(), "", payload{})
	require.Error(t, err)
	require.Equal(t, 1, pub.Count("analysis.completed"))
}

func TestPublisherReturnsCopies(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "analysis.completed", payload{SessionID: "s1"})
	require.NoError(t, err)

	msgs := pub.Messages()
	msgs[0].Event = "modified"
	msgs[0].Data[0] = 'x'
	fresh := pub.MessagesFor("analysis.completed")[0]
	require.Equal(t, "analysis.completed", fresh.Event)
	require.Equal(t, byte('{'), fresh.Data[0])
}

func TestPublisherHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Publish(ctx, "analysis.completed", payload{})
	require.ErrorIs(t, err, context.Canceled)
}
