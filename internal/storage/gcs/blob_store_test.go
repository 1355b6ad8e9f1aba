package gcs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewValidatesArguments(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), nil, Config{Bucket: "reports"})
	require.ErrorContains(t, err, "storage client is required")
}
