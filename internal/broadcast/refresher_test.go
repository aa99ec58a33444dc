package broadcast

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/undertone/confessbot/internal/cache"
)

func TestRefresherKeepsSnapshotWarm(t *testing.T) {
	t.Parallel()
	var loads atomic.Int32
	chats := cache.NewTTL("chats_refresher_test", time.Minute,
		func(ctx context.Context, key string) ([]int64, error) {
			loads.Add(1)
			return []int64{-1, -2}, nil
		})

	r := NewRefresher(chats, 10*time.Millisecond)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for loads.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("want at least 3 refreshes, got %d", loads.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	settled := loads.Load()
	time.Sleep(50 * time.Millisecond)
	if loads.Load() != settled {
		t.Error("refreshes should stop with the component")
	}
}
