package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishWithoutTopic(t *testing.T) {
	t.Parallel()

	p := New(nil)
	_, err := p.Publish(context.Background(), "analysis.completed", map[string]string{"session_id": "s1"})
	require.ErrorContains(t, err, "pubsub topic is not configured")
	p.Stop()
}
