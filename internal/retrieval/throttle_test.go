package retrieval

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// gauge tracks the number of tasks in flight and its peak.
type gauge struct {
	cur, peak atomic.Int32
}

func (g *gauge) enter() {
	n := g.cur.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (g *gauge) leave() { g.cur.Add(-1) }

func TestThrottleAllRespectsCapAndOrder(t *testing.T) {
	for _, tc := range []struct{ k, limit int }{{12, 2}, {5, 5}, {7, 3}, {3, 1}} {
		var g gauge
		tasks := make([]Task[int], tc.k)
		for i := range tasks {
			tasks[i] = func(ctx context.Context) (int, error) {
				g.enter()
				defer g.leave()
				// Later tasks finish first.
				time.Sleep(time.Duration(tc.k-i) * 3 * time.Millisecond)
				return i * 10, nil
			}
		}

		got, err := ThrottleAll(context.Background(), tasks, tc.limit)
		require.NoError(t, err)

		want := make([]int, tc.k)
		for i := range want {
			want[i] = i * 10
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("k=%d limit=%d results mismatch (-want +got):\n%s", tc.k, tc.limit, diff)
		}
		assert.LessOrEqual(t, int(g.peak.Load()), tc.limit)
		assert.Equal(t, int32(0), g.cur.Load())
	}
}

func TestThrottleAllSpawnsMinWorkers(t *testing.T) {
	var g gauge
	release := make(chan struct{})
	tasks := make([]Task[int], 3)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) (int, error) {
			g.enter()
			defer g.leave()
			<-release
			return i, nil
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = ThrottleAll(context.Background(), tasks, 10)
	}()

	require.Eventually(t, func() bool { return g.cur.Load() == 3 }, time.Second, time.Millisecond)
	close(release)
	<-done
	assert.Equal(t, int32(3), g.peak.Load())
}

func TestThrottleAllEmpty(t *testing.T) {
	got, err := ThrottleAll[string](context.Background(), nil, 2)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestThrottleAllFirstFailureCancelsRest(t *testing.T) {
	boom := errors.New("connection reset")
	var started atomic.Int32

	tasks := make([]Task[int], 10)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) (int, error) {
			started.Add(1)
			if i == 1 {
				return 0, boom
			}
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(20 * time.Millisecond):
				return i, nil
			}
		}
	}

	got, err := ThrottleAll(context.Background(), tasks, 2)
	require.Error(t, err)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, boom)

	var te *TaskError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 1, te.Index)
	assert.Less(t, int(started.Load()), 10)
}

func TestThrottleAllParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tasks := []Task[int]{func(context.Context) (int, error) { return 1, nil }}
	_, err := ThrottleAll(ctx, tasks, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
