package broadcast

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/undertone/confessbot/internal/cache"
	"github.com/undertone/confessbot/internal/infra"
)

// Refresher keeps the subscriber chat list snapshot warm in the background so
// a broadcast never pays the load on its own clock. Refresh failures are
// logged and retried on the next tick; the stale snapshot stays serviceable.
type Refresher struct {
	chats    *cache.TTL[string, []int64]
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
	logger   *log.Entry
}

func NewRefresher(chats *cache.TTL[string, []int64], interval time.Duration) *Refresher {
	return &Refresher{
		chats:    chats,
		interval: interval,
		logger:   log.WithField("context", "chat_list_refresher"),
	}
}

func (r *Refresher) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	r.done = make(chan struct{})
	go infra.GoRecoverable(-1, "chat_list_refresher", func() {
		defer r.doneOnce.Do(func() { close(r.done) })
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.refresh(ctx)
			}
		}
	})
	return nil
}

func (r *Refresher) Stop(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (r *Refresher) refresh(ctx context.Context) {
	r.chats.Invalidate(ChatListKey)
	if _, err := r.chats.Get(ctx, ChatListKey); err != nil {
		r.logger.WithError(err).Warn("chat list refresh failed")
	}
}
