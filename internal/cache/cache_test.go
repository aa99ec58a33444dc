package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/undertone/confessbot/internal/errors"
)

func TestGetLoadsOnMissAndServesFresh(t *testing.T) {
	t.Parallel()

	var loads atomic.Int32
	c := NewTTL("test", time.Minute, func(ctx context.Context, key int64) (string, error) {
		loads.Add(1)
		return "value", nil
	})

	for i := 0; i < 5; i++ {
		got, err := c.Get(context.Background(), 1)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got != "value" {
			t.Fatalf("unexpected value %q", got)
		}
	}
	if loads.Load() != 1 {
		t.Fatalf("expected 1 load, got %d", loads.Load())
	}
}

func TestExpiryTriggersExactlyOneRefresh(t *testing.T) {
	t.Parallel()

	var loads atomic.Int32
	gate := make(chan struct{})
	c := NewTTL("test", 50*time.Millisecond, func(ctx context.Context, key string) (int, error) {
		n := loads.Add(1)
		if n > 1 {
			<-gate
		}
		return int(n), nil
	})

	now := time.Now()
	currentTime := now
	var clockMu sync.Mutex
	c.clock = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return currentTime
	}

	if _, err := c.Get(context.Background(), "k"); err != nil {
		t.Fatalf("initial get: %v", err)
	}

	clockMu.Lock()
	currentTime = now.Add(time.Second)
	clockMu.Unlock()

	const readers = 16
	var wg sync.WaitGroup
	results := make([]int, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Get(context.Background(), "k")
			if err != nil {
				t.Errorf("reader %d: %v", i, err)
				return
			}
			results[i] = v
		}(i)
	}
	wg.Wait()
	close(gate)

	if loads.Load() != 2 {
		t.Fatalf("expected exactly one refresh after expiry, got %d loads", loads.Load())
	}
	for i, v := range results {
		if v != 2 {
			t.Fatalf("reader %d served stale value %d", i, v)
		}
	}
}

func TestLoaderErrorIsPropagatedAndNotCached(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	var loads atomic.Int32
	c := NewTTL("test", time.Minute, func(ctx context.Context, key int) (int, error) {
		if loads.Add(1) == 1 {
			return 0, boom
		}
		return 7, nil
	})

	if _, err := c.Get(context.Background(), 1); !errors.Is(err, boom) {
		t.Fatalf("expected loader error, got %v", err)
	}
	v, err := c.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if v != 7 {
		t.Fatalf("unexpected value %d", v)
	}
}

func TestWriteOnlyCacheMissesWithoutLoader(t *testing.T) {
	t.Parallel()

	c := NewTTL[int, int64]("remember", time.Hour, nil)
	if _, err := c.Get(context.Background(), 1); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	c.Put(1, 99)
	v, err := c.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("get after put: %v", err)
	}
	if v != 99 {
		t.Fatalf("unexpected value %d", v)
	}
}

func TestInvalidate(t *testing.T) {
	t.Parallel()

	var loads atomic.Int32
	c := NewTTL("test", time.Hour, func(ctx context.Context, key int) (int, error) {
		return int(loads.Add(1)), nil
	})

	if _, err := c.Get(context.Background(), 1); err != nil {
		t.Fatalf("get: %v", err)
	}
	c.Invalidate(1)
	v, err := c.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("get after invalidate: %v", err)
	}
	if v != 2 {
		t.Fatalf("expected reload after invalidate, got %d", v)
	}

	c.Put(2, 10)
	c.InvalidateAll()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got %d entries", c.Len())
	}
}
