package sequencer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTasksUnderOneKeyRunInOrder(t *testing.T) {
	t.Parallel()

	s := New()
	key := Key{ChatID: -100, UserID: 7}

	const n = 500
	var mu sync.Mutex
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		i := i
		s.Do(key, func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	s.Wait()

	if len(order) != n {
		t.Fatalf("expected %d tasks, ran %d", n, len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestTasksUnderOneKeyNeverOverlap(t *testing.T) {
	t.Parallel()

	s := New()
	key := Key{ChatID: 1, UserID: 1}

	var inFlight atomic.Int32
	var overlaps atomic.Int32
	for i := 0; i < 200; i++ {
		s.Do(key, func() {
			if inFlight.Add(1) > 1 {
				overlaps.Add(1)
			}
			time.Sleep(time.Microsecond)
			inFlight.Add(-1)
		})
	}
	s.Wait()

	if overlaps.Load() != 0 {
		t.Fatalf("detected %d overlapping executions", overlaps.Load())
	}
}

func TestUnrelatedKeysRunConcurrently(t *testing.T) {
	t.Parallel()

	s := New()
	block := make(chan struct{})
	started := make(chan struct{})

	s.Do(Key{ChatID: 1, UserID: 1}, func() {
		close(started)
		<-block
	})
	<-started

	done := make(chan struct{})
	s.Do(Key{ChatID: 2, UserID: 2}, func() {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("unrelated key blocked behind busy key")
	}
	close(block)
	s.Wait()
}

func TestCloseStopsAcceptingTasks(t *testing.T) {
	t.Parallel()

	s := New()
	var ran atomic.Int32
	s.Do(Key{UserID: 1}, func() { ran.Add(1) })
	s.Close()
	s.Do(Key{UserID: 1}, func() { ran.Add(1) })
	s.Wait()

	if ran.Load() != 1 {
		t.Fatalf("expected 1 task to run, got %d", ran.Load())
	}
}
