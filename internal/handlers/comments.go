package handlers

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/undertone/confessbot/internal/bot"
	"github.com/undertone/confessbot/internal/config"
	"github.com/undertone/confessbot/internal/limiter"
	"github.com/undertone/confessbot/internal/resolver"
)

// commentResolver maps a discussion-chat comment back to the confession's
// author.
type commentResolver interface {
	Resolve(ctx context.Context, msg *api.Message) (int64, int, error)
}

// Comments forwards discussion-chat replies to the anonymous author of the
// confession they comment on. The commenter is shown as-is; the author's
// identity never leaves the bot.
type Comments struct {
	sender   sender
	lim      *limiter.Limiter
	resolver commentResolver
	cfg      *config.Config
	logger   *log.Entry
}

func NewComments(s bot.Service, r *resolver.Resolver, cfg *config.Config) *Comments {
	return &Comments{
		sender:   s.GetBot(),
		lim:      s.GetLimiter(),
		resolver: r,
		cfg:      cfg,
		logger:   log.WithField("context", "comments"),
	}
}

func (h *Comments) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if u.Message == nil || chat == nil || user == nil {
		return true, nil
	}
	if chat.ID != h.cfg.DiscussionChatID {
		return true, nil
	}
	msg := u.Message
	// The linked-channel mirror posts arrive as automatic forwards; they are
	// not comments.
	if user.IsBot || msg.IsAutomaticForward {
		return false, nil
	}

	body := msg.Text
	if body == "" {
		body = msg.Caption
	}
	if body == "" {
		return false, nil
	}

	authorID, postID, err := h.resolver.Resolve(ctx, msg)
	if err != nil {
		if errors.Is(err, resolver.ErrUnresolved) {
			h.logger.WithField("message_id", msg.MessageID).Debug("comment did not resolve to a post")
			return false, nil
		}
		return false, err
	}

	notice := "New comment on your confession:\n\n" + body
	if _, err := sendLimited(ctx, h.lim, h.sender, authorID, api.NewMessage(authorID, notice)); err != nil {
		h.logger.WithError(err).
			WithField("post_id", postID).
			Warn("comment forward failed")
	}
	return false, nil
}
