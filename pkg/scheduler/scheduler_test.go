package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchwatch/branchwatch/pkg/logger"
)

func TestBatchSize(t *testing.T) {
	tests := []struct {
		devices int
		want    int
	}{
		{devices: 0, want: 50},
		{devices: 1, want: 50},
		{devices: 100, want: 50},
		{devices: 500, want: 50},
		{devices: 501, want: 100},
		{devices: 875, want: 100},
		{devices: 1500, want: 150},
		{devices: 4999, want: 500},
		{devices: 5000, want: 500},
		{devices: 100000, want: 500},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, BatchSize(tt.devices), "devices=%d", tt.devices)
	}
}

func TestSplitBatchesCoversEveryDeviceOnce(t *testing.T) {
	tests := []struct {
		devices     int
		wantBatches int
		wantSize    int
	}{
		{devices: 875, wantBatches: 9, wantSize: 100},
		{devices: 1500, wantBatches: 10, wantSize: 150},
	}

	for _, tt := range tests {
		ids := make([]uuid.UUID, tt.devices)
		for i := range ids {
			ids[i] = uuid.New()
		}

		batches := SplitBatches(ids)
		require.Len(t, batches, tt.wantBatches, "devices=%d", tt.devices)

		seen := make(map[uuid.UUID]int, tt.devices)
		for i, batch := range batches {
			if i < len(batches)-1 {
				assert.Len(t, batch, tt.wantSize)
			}

			for _, id := range batch {
				seen[id]++
			}
		}

		require.Len(t, seen, tt.devices)

		for _, n := range seen {
			assert.Equal(t, 1, n)
		}
	}
}

func TestSplitBatchesEmpty(t *testing.T) {
	assert.Nil(t, SplitBatches(nil))
}

func TestQueueStrictPriority(t *testing.T) {
	q := NewQueue(8)

	order := []Priority{PriorityMaintenance, PrioritySNMP, PriorityPing, PriorityAlerts}
	for _, p := range order {
		ok := q.Enqueue(&Task{Name: p.String(), Priority: p, Run: func(context.Context) error { return nil }})
		require.True(t, ok)
	}

	ctx := context.Background()

	var got []Priority

	for range order {
		task, err := q.Dequeue(ctx)
		require.NoError(t, err)

		got = append(got, task.Priority)
	}

	assert.Equal(t, []Priority{PriorityAlerts, PriorityPing, PrioritySNMP, PriorityMaintenance}, got)
}

func TestQueueDropNewestWhenFull(t *testing.T) {
	q := NewQueue(1)

	noop := func(context.Context) error { return nil }

	require.True(t, q.Enqueue(&Task{Name: "first", Priority: PriorityPing, Run: noop}))
	assert.False(t, q.Enqueue(&Task{Name: "second", Priority: PriorityPing, Run: noop}))
	assert.Equal(t, uint64(1), q.Skipped(PriorityPing))

	task, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", task.Name)
}

func TestQueueDequeueHonorsContext(t *testing.T) {
	q := NewQueue(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolAbortsTaskAtHardLimit(t *testing.T) {
	q := NewQueue(4)
	p := NewPool(q, 1, logger.NewTestLogger())
	p.softLimit = 10 * time.Millisecond
	p.hardLimit = 25 * time.Millisecond

	hung := make(chan error, 1)
	done := make(chan struct{})

	// A task that never returns on its own: it must be cut loose by the
	// per-task deadline, and the worker must go on to serve the next task.
	require.True(t, q.Enqueue(&Task{Name: "hung", Priority: PrioritySNMP, Run: func(ctx context.Context) error {
		<-ctx.Done()
		hung <- ctx.Err()

		return ctx.Err()
	}}))
	require.True(t, q.Enqueue(&Task{Name: "next", Priority: PrioritySNMP, Run: func(context.Context) error {
		close(done)
		return nil
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	select {
	case err := <-hung:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("hung task was not aborted")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not pick up the next task after the abort")
	}

	cancel()
	p.Wait()
}

func TestQueueBlocksThenServesArrival(t *testing.T) {
	q := NewQueue(1)

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(&Task{Name: "late", Priority: PrioritySNMP, Run: func(context.Context) error { return nil }})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	task, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "late", task.Name)
}
