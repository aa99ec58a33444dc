package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestClassFor(t *testing.T) {
	t.Parallel()

	if ClassFor(-1001234) != Group {
		t.Fatal("negative id should classify as Group")
	}
	if ClassFor(12345) != DM {
		t.Fatal("positive id should classify as DM")
	}
	if ClassFor(0) != Global {
		t.Fatal("zero id should classify as Global")
	}
}

func TestConcurrencyCap(t *testing.T) {
	t.Parallel()

	l := New(map[Class]ClassConfig{
		Group: {Concurrent: 2},
	})

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Do(context.Background(), Group, func() error {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("Do: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak.Load() > 2 {
		t.Fatalf("concurrency cap exceeded: peak %d", peak.Load())
	}
}

func TestMinSpacingBetweenAdmissions(t *testing.T) {
	t.Parallel()

	l := New(map[Class]ClassConfig{
		DM: {Concurrent: 4, MinSpacing: 20 * time.Millisecond},
	})

	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := l.Acquire(context.Background(), DM); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		l.Release(DM)
	}
	// First admission is free, the next three wait a spacing interval each.
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("admissions were not spaced: %v", elapsed)
	}
}

func TestPenaltyBlocksAdmissions(t *testing.T) {
	t.Parallel()

	l := New(map[Class]ClassConfig{
		Group: {Concurrent: 1, Penalty: 60 * time.Millisecond},
	})

	l.Penalize(Group, 0)
	start := time.Now()
	if err := l.Acquire(context.Background(), Group); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	l.Release(Group)
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("penalty not applied: admitted after %v", elapsed)
	}
}

func TestPenaltyPrefersRetryAfter(t *testing.T) {
	t.Parallel()

	l := New(map[Class]ClassConfig{
		Group: {Concurrent: 1, Penalty: 10 * time.Millisecond},
	})

	l.Penalize(Group, 80*time.Millisecond)
	start := time.Now()
	if err := l.Acquire(context.Background(), Group); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	l.Release(Group)
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Fatalf("retry-after not honored: admitted after %v", elapsed)
	}
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	l := New(map[Class]ClassConfig{
		DM: {Concurrent: 1},
	})
	if err := l.Acquire(context.Background(), DM); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx, DM); err == nil {
		t.Fatal("expected context error while slot is held")
	}
	l.Release(DM)
}

func TestUnknownClassFallsBackToGlobal(t *testing.T) {
	t.Parallel()

	l := New(nil)
	if err := l.Do(context.Background(), Class(99), func() error { return nil }); err != nil {
		t.Fatalf("Do via fallback class: %v", err)
	}
}
