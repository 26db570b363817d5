package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Rzx-x/Ticket-Agent/internal/errs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesAndDrains(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []uuid.UUID
	)
	release := make(chan struct{})
	q := NewQueue(func(ctx context.Context, id uuid.UUID) error {
		<-release
		mu.Lock()
		seen = append(seen, id)
		mu.Unlock()
		return nil
	}, 1, 2, nil, nil)

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	require.NoError(t, q.Enqueue(ids[0]))
	// the worker holds the first job while the other two fill the buffer
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Enqueue(ids[1]))
	require.NoError(t, q.Enqueue(ids[2]))
	assert.Equal(t, 2, q.Len())
	assert.ErrorIs(t, q.Enqueue(uuid.New()), errs.ErrQueueFull)

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Close(ctx))
	assert.ElementsMatch(t, ids, seen)
	assert.ErrorIs(t, q.Enqueue(uuid.New()), ErrQueueClosed)
}
