package cache_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/cache"
)

func TestCoordinatorRunsRoundsInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string

	record := func(name string) cache.InitialSync {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	c := cache.NewCoordinator(
		[]cache.InitialSync{record("directories")},
		[]cache.InitialSync{record("files-a"), record("files-b")},
		[]cache.InitialSync{record("headlines")},
	)
	require.NoError(t, c.Run(context.Background()))

	require.Len(t, order, 4)
	assert.Equal(t, "directories", order[0])
	assert.Equal(t, "headlines", order[3])
}

func TestCoordinatorStopsAtFailingRound(t *testing.T) {
	var ran bool
	c := cache.NewCoordinator(
		[]cache.InitialSync{func(ctx context.Context) error { return assert.AnError }},
		[]cache.InitialSync{func(ctx context.Context) error { ran = true; return nil }},
	)
	err := c.Run(context.Background())
	assert.Error(t, err)
	assert.False(t, ran, "later round must not start after an earlier one fails")
}
