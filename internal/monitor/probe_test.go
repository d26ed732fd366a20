package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/hospital-agent/pkg/icron"
)

type fakeChecker struct {
	calls atomic.Int32
	err   error
	gate  chan struct{}
}

func (c *fakeChecker) Ping(ctx context.Context) error {
	c.calls.Add(1)
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.err
}

func TestProbe_SnapshotBeforeFirstRun(t *testing.T) {
	t.Parallel()

	p := NewProbe(&fakeChecker{})
	snap := p.Snapshot()
	assert.False(t, snap.Checked)
	assert.False(t, snap.Reachable)
	assert.Nil(t, snap.LastChecked)
	assert.Empty(t, snap.Schedule)
}

func TestProbe_Run(t *testing.T) {
	t.Parallel()

	checker := &fakeChecker{}
	p := NewProbe(checker)

	snap := p.Run(context.Background())
	assert.True(t, snap.Checked)
	assert.True(t, snap.Reachable)
	require.NotNil(t, snap.LastChecked)
	assert.Empty(t, snap.Error)
	assert.Equal(t, snap, p.Snapshot())

	checker.err = errors.New("backend_unavailable: connection refused")
	snap = p.Run(context.Background())
	assert.False(t, snap.Reachable)
	assert.Equal(t, "backend_unavailable: connection refused", snap.Error)
	assert.Equal(t, int32(2), checker.calls.Load())
}

func TestProbe_Timeout(t *testing.T) {
	t.Parallel()

	checker := &fakeChecker{gate: make(chan struct{})}
	p := NewProbe(checker, WithTimeout(20*time.Millisecond))

	snap := p.Run(context.Background())
	assert.False(t, snap.Reachable)
	assert.Contains(t, snap.Error, "deadline exceeded")
}

func TestProbe_ConcurrentRunsShareOneCheck(t *testing.T) {
	t.Parallel()

	checker := &fakeChecker{gate: make(chan struct{})}
	p := NewProbe(checker)

	var wg sync.WaitGroup
	snaps := make([]Snapshot, 3)
	for i := range snaps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snaps[i] = p.Run(context.Background())
		}()
	}

	require.Eventually(t, func() bool { return checker.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(checker.gate)
	wg.Wait()

	assert.Equal(t, int32(1), checker.calls.Load())
	for _, snap := range snaps {
		assert.True(t, snap.Reachable)
	}
}

func TestProbe_Schedule(t *testing.T) {
	t.Parallel()

	checker := &fakeChecker{}
	p := NewProbe(checker)

	c := icron.New()
	require.NoError(t, p.Schedule(c, "@every 1s"))
	c.Start()
	t.Cleanup(func() { <-c.Stop().Done() })

	require.Eventually(t, func() bool { return p.Snapshot().Checked }, 5*time.Second, 20*time.Millisecond)

	snap := p.Snapshot()
	assert.Equal(t, "@every 1s", snap.Schedule)
	require.NotNil(t, snap.NextCheck)
	assert.True(t, snap.NextCheck.After(*snap.LastChecked))
	assert.Positive(t, snap.NextCheckIn)
	assert.LessOrEqual(t, snap.NextCheckIn, int64(1000))
}

func TestProbe_ScheduleRejectsBadExpression(t *testing.T) {
	t.Parallel()

	p := NewProbe(&fakeChecker{})
	require.Error(t, p.Schedule(icron.New(), "sometimes"))
	assert.Empty(t, p.Snapshot().Schedule)
}
