package handlers

import (
	"context"
	"fmt"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/undertone/confessbot/internal/bot"
	"github.com/undertone/confessbot/internal/broadcast"
	"github.com/undertone/confessbot/internal/cache"
	"github.com/undertone/confessbot/internal/config"
	"github.com/undertone/confessbot/internal/db"
	apperrors "github.com/undertone/confessbot/internal/errors"
	"github.com/undertone/confessbot/internal/limiter"
)

// logRetryDelay gates another metadata report attempt when the log chat
// rate-limits us and the error carries no retry hint.
const logRetryDelay = time.Hour

type registryStore interface {
	GetChatConfig(ctx context.Context, chatID int64) (*db.ChatConfig, error)
	PutChatConfig(ctx context.Context, config *db.ChatConfig) error
}

// Registry keeps the subscriber chat list current: every group chat the bot
// hears from gets a config row, and its metadata is reported to the log chat
// once. The handler is passive, updates always proceed to the rest of the
// chain.
type Registry struct {
	sender sender
	lim    *limiter.Limiter
	store  registryStore
	chats  *cache.TTL[string, []int64]
	cfg    *config.Config
	now    func() time.Time
	logger *log.Entry
}

func NewRegistry(s bot.Service, chats *cache.TTL[string, []int64], cfg *config.Config) *Registry {
	return &Registry{
		sender: s.GetBot(),
		lim:    s.GetLimiter(),
		store:  s.GetDB(),
		chats:  chats,
		cfg:    cfg,
		now:    time.Now,
		logger: log.WithField("context", "registry"),
	}
}

func (h *Registry) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if chat == nil || chat.ID >= 0 {
		return true, nil
	}

	chatConfig, err := h.store.GetChatConfig(ctx, chat.ID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		chatConfig = &db.ChatConfig{ID: chat.ID}
		if err := h.store.PutChatConfig(ctx, chatConfig); err != nil {
			return true, errors.WithMessage(err, "register chat")
		}
		h.chats.Invalidate(broadcast.ChatListKey)
		h.logger.WithField("chat_id", chat.ID).WithField("title", chat.Title).Info("chat registered")
	case err != nil:
		return true, err
	}

	h.maybeReport(ctx, chat, user, chatConfig)
	return true, nil
}

// maybeReport sends the one-time chat metadata line to the log chat,
// rescheduling on a rate-limit failure.
func (h *Registry) maybeReport(ctx context.Context, chat *api.Chat, user *api.User, chatConfig *db.ChatConfig) {
	if h.cfg.LogChatID == 0 || chatConfig.IsLogged {
		return
	}
	now := h.now()
	if chatConfig.NextLogTryAt != 0 && now.UnixMilli() < chatConfig.NextLogTryAt {
		return
	}

	report := fmt.Sprintf("New chat: %q (%d), type %s", chat.Title, chat.ID, chat.Type)
	if un := bot.GetUN(user); un != "" {
		report = fmt.Sprintf("%s, seen via %s", report, un)
	}
	_, err := sendLimited(ctx, h.lim, h.sender, h.cfg.LogChatID, api.NewMessage(h.cfg.LogChatID, report))
	if err != nil {
		delay := logRetryDelay
		if retryAfter, ok := bot.RetryAfter(err); ok && retryAfter > delay {
			delay = retryAfter
		}
		chatConfig.NextLogTryAt = now.Add(delay).UnixMilli()
		h.logger.WithError(err).WithField("chat_id", chat.ID).Warn("metadata report failed")
	} else {
		chatConfig.IsLogged = true
		chatConfig.NextLogTryAt = 0
	}
	if err := h.store.PutChatConfig(ctx, chatConfig); err != nil {
		h.logger.WithError(err).WithField("chat_id", chat.ID).Warn("chat config update failed")
	}
}
