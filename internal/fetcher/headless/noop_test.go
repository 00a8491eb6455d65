package headless

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoop_FetchFailsWithNotConfigured(t *testing.T) {
	t.Parallel()

	_, err := NewNoop().Fetch(context.Background(), "https://example.com/")
	require.ErrorIs(t, err, ErrNotConfigured)
}
