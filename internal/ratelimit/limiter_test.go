package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLimiter(limit int, window time.Duration) (*Limiter, *time.Time) {
	l := NewLimiter(limit, window)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestCheck_FirstRequestOpensWindow(t *testing.T) {
	l, now := newTestLimiter(50, time.Hour)

	d := l.Check(1)
	require.True(t, d.Allowed)
	require.Equal(t, 50, d.Limit)
	require.Equal(t, 49, d.Remaining)
	require.Equal(t, now.Add(time.Hour), d.ResetAt)
}

func TestCheck_CeilingEnforced(t *testing.T) {
	l, _ := newTestLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		require.True(t, l.Check(7).Allowed)
	}

	d := l.Check(7)
	require.False(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)
	require.False(t, d.ResetAt.IsZero())

	// 被拒绝的请求不消耗计数，窗口内持续拒绝
	d = l.Check(7)
	require.False(t, d.Allowed)
}

func TestCheck_WindowExpiryResetsCount(t *testing.T) {
	l, now := newTestLimiter(2, time.Hour)

	require.True(t, l.Check(1).Allowed)
	require.True(t, l.Check(1).Allowed)
	require.False(t, l.Check(1).Allowed)

	*now = now.Add(time.Hour + time.Minute)

	d := l.Check(1)
	require.True(t, d.Allowed)
	require.Equal(t, 1, d.Remaining)
	require.Equal(t, now.Add(time.Hour), d.ResetAt)
}

func TestCheck_CallersAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, time.Hour)

	require.True(t, l.Check(1).Allowed)
	require.False(t, l.Check(1).Allowed)
	require.True(t, l.Check(2).Allowed)
}

func TestCheck_ConcurrentRequestsNeverExceedCeiling(t *testing.T) {
	l := NewLimiter(50, time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check(42).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 50, allowed)
}

func TestSweep_RemovesOnlyExpiredBuckets(t *testing.T) {
	l, now := newTestLimiter(10, time.Hour)

	l.Check(1)
	l.Check(2)
	*now = now.Add(30 * time.Minute)
	l.Check(3)

	*now = now.Add(45 * time.Minute) // 用户 1、2 的窗口已过，用户 3 的未过

	removed := l.Sweep()
	require.Equal(t, 2, removed)

	l.mu.Lock()
	_, ok := l.buckets[3]
	l.mu.Unlock()
	require.True(t, ok)

	// 被清理的用户下一次请求重新开窗
	d := l.Check(1)
	require.True(t, d.Allowed)
	require.Equal(t, 9, d.Remaining)
}
