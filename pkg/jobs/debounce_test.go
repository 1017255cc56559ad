package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flushRecorder struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (r *flushRecorder) flush(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[key]++
	return r.err
}

func (r *flushRecorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[key]
}

func TestDebouncerCoalescesTouches(t *testing.T) {
	rec := &flushRecorder{}
	d := NewDebouncer("test", rec.flush, DebouncerConfig{Delay: 30 * time.Millisecond})
	defer d.Stop(context.Background())

	for i := 0; i < 5; i++ {
		d.Touch("gb-1")
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, d.Pending("gb-1"))
	require.Eventually(t, func() bool { return rec.count("gb-1") == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, d.Pending("gb-1"))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, rec.count("gb-1"))
}

func TestDebouncerFlushCancelsTimer(t *testing.T) {
	rec := &flushRecorder{err: errors.New("boom")}
	d := NewDebouncer("test", rec.flush, DebouncerConfig{Delay: 20 * time.Millisecond})
	defer d.Stop(context.Background())

	d.Touch("gb-1")
	err := d.Flush(context.Background(), "gb-1")
	require.Error(t, err)
	assert.False(t, d.Pending("gb-1"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count("gb-1"))
}

func TestDebouncerSameKeyNeverOverlaps(t *testing.T) {
	var active, maxActive int32
	flush := func(context.Context, string) error {
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return nil
	}
	d := NewDebouncer("test", flush, DebouncerConfig{Delay: time.Millisecond})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Flush(context.Background(), "gb-1")
		}()
	}
	d.Touch("gb-1")
	wg.Wait()
	d.Stop(context.Background())
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
}

func TestDebouncerStopFlushesPending(t *testing.T) {
	rec := &flushRecorder{}
	d := NewDebouncer("test", rec.flush, DebouncerConfig{Delay: time.Hour})
	d.Touch("a")
	d.Touch("b")
	d.Stop(context.Background())

	assert.Equal(t, 1, rec.count("a"))
	assert.Equal(t, 1, rec.count("b"))

	d.Touch("a")
	assert.False(t, d.Pending("a"))
}
