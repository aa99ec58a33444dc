package broadcast

import (
	"context"
	"sync/atomic"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/undertone/confessbot/internal/bot"
	"github.com/undertone/confessbot/internal/cache"
	"github.com/undertone/confessbot/internal/db"
	apperrors "github.com/undertone/confessbot/internal/errors"
	"github.com/undertone/confessbot/internal/limiter"
	"github.com/undertone/confessbot/internal/observability"
)

const (
	// ChatListKey keys the single subscriber-chat-id snapshot entry.
	ChatListKey = "all"

	pinAttempts    = 3
	pinBackoffStep = 2 * time.Second
	fanoutParallel = 8
)

type sender interface {
	Send(c api.Chattable) (api.Message, error)
	Request(c api.Chattable) (*api.APIResponse, error)
}

type chatStore interface {
	DeleteChatConfig(ctx context.Context, chatID int64) error
}

// Broadcaster delivers one notice to every subscriber chat. Failures are
// contained per chat: a dead or misconfigured chat never blocks delivery to
// the rest.
type Broadcaster struct {
	bot          sender
	store        chatStore
	configs      *cache.TTL[int64, *db.ChatConfig]
	chats        *cache.TTL[string, []int64]
	lim          *limiter.Limiter
	exclude      map[int64]struct{}
	generalTopic int
	pinBackoff   time.Duration
	logger       *log.Entry
}

func New(
	sender sender,
	store chatStore,
	configs *cache.TTL[int64, *db.ChatConfig],
	chats *cache.TTL[string, []int64],
	lim *limiter.Limiter,
	exclude map[int64]struct{},
	generalTopic int,
) *Broadcaster {
	return &Broadcaster{
		bot:          sender,
		store:        store,
		configs:      configs,
		chats:        chats,
		lim:          lim,
		exclude:      exclude,
		generalTopic: generalTopic,
		pinBackoff:   pinBackoffStep,
		logger:       log.WithField("context", "broadcast"),
	}
}

// Targets snapshots the subscriber chats eligible for delivery: the
// exclusion set and anything that is not a group-style (negative) id are
// filtered out.
func (b *Broadcaster) Targets(ctx context.Context) ([]int64, error) {
	ids, err := b.chats.Get(ctx, ChatListKey)
	if err != nil {
		return nil, errors.WithMessage(err, "cant snapshot chat list")
	}
	targets := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id >= 0 {
			continue
		}
		if _, excluded := b.exclude[id]; excluded {
			continue
		}
		targets = append(targets, id)
	}
	return targets, nil
}

// Fanout delivers text to every eligible subscriber chat and reports how
// many deliveries succeeded.
func (b *Broadcaster) Fanout(ctx context.Context, text string) int {
	targets, err := b.Targets(ctx)
	if err != nil {
		b.logger.WithError(err).Error("fan-out aborted: no chat snapshot")
		return 0
	}

	start := time.Now()
	var delivered atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanoutParallel)
	for _, chatID := range targets {
		chatID := chatID
		g.Go(func() error {
			if err := b.sendToChat(gctx, chatID, text); err != nil {
				// Contained: the per-chat error is already classified and
				// logged, the pass continues.
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	b.logger.WithFields(log.Fields{
		"targets":   len(targets),
		"delivered": delivered.Load(),
		"took":      time.Since(start),
	}).Info("fan-out finished")
	return int(delivered.Load())
}

func (b *Broadcaster) sendToChat(ctx context.Context, chatID int64, text string) error {
	threadID := 0
	if cfg, err := b.configs.Get(ctx, chatID); err == nil && cfg != nil {
		threadID = cfg.ThreadID
	} else if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		b.logger.WithError(err).WithField("chat_id", chatID).Warn("chat config unavailable, sending to root")
	}

	err := b.send(ctx, chatID, threadID, text)
	if err == nil {
		observability.RecordFanoutDelivery("ok")
		return nil
	}

	switch {
	case bot.IsChatNotFound(err):
		b.pruneChat(ctx, chatID)
		observability.RecordFanoutDelivery("stale")
		return err
	case bot.IsTopicRequired(err):
		// Forum chat without a (valid) recorded topic: one retry against the
		// general topic, then give up.
		if retryErr := b.send(ctx, chatID, b.generalTopic, text); retryErr == nil {
			observability.RecordFanoutDelivery("ok_general_topic")
			return nil
		}
		observability.RecordFanoutDelivery("topic_failed")
		b.logger.WithError(err).WithField("chat_id", chatID).Warn("delivery failed even via general topic")
		return err
	default:
		observability.RecordFanoutDelivery("error")
		b.logger.WithError(err).WithField("chat_id", chatID).Warn("delivery failed")
		return err
	}
}

func (b *Broadcaster) send(ctx context.Context, chatID int64, threadID int, text string) error {
	return b.lim.Do(ctx, limiter.ClassFor(chatID), func() error {
		msg := api.NewMessage(chatID, text)
		if threadID > 0 {
			msg.MessageThreadID = threadID
		}
		msg.LinkPreviewOptions.IsDisabled = true
		_, err := b.bot.Send(msg)
		if retryAfter, limited := bot.RetryAfter(err); limited {
			b.lim.Penalize(limiter.ClassFor(chatID), retryAfter)
		}
		return err
	})
}

// pruneChat drops a destination the transport reports as gone. No retry:
// the chat is removed from persistent storage and every cache that knows it.
func (b *Broadcaster) pruneChat(ctx context.Context, chatID int64) {
	if err := b.store.DeleteChatConfig(ctx, chatID); err != nil {
		b.logger.WithError(err).WithField("chat_id", chatID).Error("cant remove stale chat")
	}
	b.configs.Invalidate(chatID)
	b.chats.Invalidate(ChatListKey)
	b.logger.WithField("chat_id", chatID).Info("pruned stale chat")
}

// PinWithRetry pins a channel post, absorbing transient throttle rejections
// with a small linear backoff. A final failure is logged, never escalated.
func (b *Broadcaster) PinWithRetry(ctx context.Context, chatID int64, messageID int) {
	pin := api.PinChatMessageConfig{
		BaseChatMessage: api.BaseChatMessage{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			MessageID:  messageID,
		},
		DisableNotification: true,
	}

	var lastErr error
	for attempt := 1; attempt <= pinAttempts; attempt++ {
		lastErr = b.lim.Do(ctx, limiter.ClassFor(chatID), func() error {
			_, err := b.bot.Request(pin)
			return err
		})
		if lastErr == nil {
			return
		}
		delay := time.Duration(attempt) * b.pinBackoff
		if retryAfter, limited := bot.RetryAfter(lastErr); limited && retryAfter > delay {
			delay = retryAfter
		}
		if attempt == pinAttempts {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
	b.logger.WithError(lastErr).WithFields(log.Fields{
		"chat_id":    chatID,
		"message_id": messageID,
	}).Warn("giving up on pin")
}
