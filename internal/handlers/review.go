package handlers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/undertone/confessbot/internal/bot"
	"github.com/undertone/confessbot/internal/broadcast"
	"github.com/undertone/confessbot/internal/codec"
	"github.com/undertone/confessbot/internal/config"
	"github.com/undertone/confessbot/internal/limiter"
	"github.com/undertone/confessbot/internal/observability"
	"github.com/undertone/confessbot/internal/resolver"
)

// postWriter is the slice of the store the review flow writes post mappings to.
type postWriter interface {
	UpsertPostUser(ctx context.Context, postID int, userID int64) error
}

// postMemory receives fresh post-author pairs for cached resolution.
type postMemory interface {
	Remember(postID int, userID int64)
}

// announcer is the broadcast surface the broadcast decision drives.
type announcer interface {
	Fanout(ctx context.Context, text string) int
	PinWithRetry(ctx context.Context, chatID int64, messageID int)
}

// Review drives the moderation state machine off the pending item's inline
// keyboard. Each review message takes exactly one decision; late presses on a
// closed item get an "already handled" toast.
type Review struct {
	sender    sender
	lim       *limiter.Limiter
	sessions  *SessionService
	posts     postWriter
	memory    postMemory
	announcer announcer
	cfg       *config.Config
	handled   sync.Map
	logger    *log.Entry
}

func NewReview(
	s bot.Service,
	sessions *SessionService,
	memory *resolver.Resolver,
	announcer *broadcast.Broadcaster,
	cfg *config.Config,
) *Review {
	return &Review{
		sender:    s.GetBot(),
		lim:       s.GetLimiter(),
		sessions:  sessions,
		posts:     s.GetDB(),
		memory:    memory,
		announcer: announcer,
		cfg:       cfg,
		logger:    log.WithField("context", "review"),
	}
}

func (h *Review) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	cq := u.CallbackQuery
	if cq == nil {
		return true, nil
	}
	if cq.Message == nil || cq.Message.Chat.ID != h.cfg.ReviewChatID {
		return true, nil
	}
	if !strings.HasPrefix(cq.Data, "mod:") {
		return true, nil
	}

	if _, closed := h.handled.LoadOrStore(cq.Message.MessageID, struct{}{}); closed {
		h.answer(cq.ID, "Already handled")
		return false, nil
	}

	if err := h.decide(ctx, cq); err != nil {
		// A decision only fails before any public state changed, so the item
		// can reopen for another press.
		h.handled.Delete(cq.Message.MessageID)
		h.answer(cq.ID, "Failed, try again")
		return false, err
	}
	return false, nil
}

func (h *Review) decide(ctx context.Context, cq *api.CallbackQuery) error {
	msg := cq.Message
	headerText := msg.Text
	if headerText == "" {
		headerText = msg.Caption
	}
	userID, _, err := codec.ParseHeader(headerText)
	if err != nil {
		// A pending item the bot did not produce; leave the guard closed, it
		// can never be decided.
		h.answer(cq.ID, "Malformed review item")
		h.logger.WithError(err).WithField("message_id", msg.MessageID).Warn("pending header unparseable")
		return nil
	}

	payload, ok := bot.ExtractMedia(msg)
	if !ok {
		h.answer(cq.ID, "Unsupported review item")
		h.logger.WithField("message_id", msg.MessageID).Warn("pending item carries no payload")
		return nil
	}
	payload.Text = codec.StripHeader(payload.Text)

	switch cq.Data {
	case callbackApprove:
		postID, err := h.publish(ctx, userID, payload)
		if err != nil {
			return err
		}
		h.markDecided(ctx, msg, headerText, "approved")
		h.answer(cq.ID, "Approved")
		observability.RecordDecision("approve")
		logDecision("approve", userID, postID)
		h.notifyAuthor(ctx, userID, fmt.Sprintf("Your confession was published: %s", h.postLink(postID)))

	case callbackBroadcast:
		postID, err := h.publish(ctx, userID, payload)
		if err != nil {
			return err
		}
		h.markDecided(ctx, msg, headerText, "broadcast")
		h.answer(cq.ID, "Broadcast")
		observability.RecordDecision("broadcast")
		logDecision("broadcast", userID, postID)
		h.notifyAuthor(ctx, userID, fmt.Sprintf("Your confession was published: %s", h.postLink(postID)))
		h.announcer.PinWithRetry(ctx, h.cfg.ChannelID, postID)
		h.announcer.Fanout(ctx, fmt.Sprintf("New confession, join the discussion: %s", h.postLink(postID)))

	case callbackDiscard:
		h.markDecided(ctx, msg, headerText, "discarded")
		h.answer(cq.ID, "Discarded")
		observability.RecordDecision("discard")
		logDecision("discard", userID, 0)
		h.notifyAuthor(ctx, userID, "Your confession was discarded by moderation.")

	case callbackBan:
		if err := h.sessions.SetBanned(ctx, userID, true); err != nil {
			return err
		}
		// Audit repost with the author deanonymized for the moderators.
		audit := payload.Chattable(h.cfg.ReviewChatID,
			withHeader(fmt.Sprintf("%d (banned)", userID), payload.Text))
		if _, err := sendLimited(ctx, h.lim, h.sender, h.cfg.ReviewChatID, audit); err != nil {
			h.logger.WithError(err).Warn("ban audit repost failed")
		}
		h.markDecided(ctx, msg, headerText, "banned")
		h.answer(cq.ID, "Banned")
		observability.RecordDecision("ban")
		logDecision("ban", userID, 0)
		h.notifyAuthor(ctx, userID, "Your confession was discarded by moderation.")

	default:
		h.answer(cq.ID, "Unknown action")
	}
	return nil
}

// publish posts the payload to the channel, rewrites it to carry the
// confession header once the post id is known, and records the post-author
// mapping in the session, the persistent map and the resolver cache. Once
// the channel send went through the decision is final: bookkeeping failures
// are logged, never surfaced, so a retry cannot produce a second post.
func (h *Review) publish(ctx context.Context, userID int64, payload bot.MediaPayload) (int, error) {
	sent, err := sendLimited(ctx, h.lim, h.sender, h.cfg.ChannelID,
		payload.Chattable(h.cfg.ChannelID, payload.Text))
	if err != nil {
		return 0, errors.WithMessage(err, "publish to channel")
	}
	postID := sent.MessageID

	header := codec.FormatHeader(userID, postID)
	var edit api.Chattable
	if payload.Kind == bot.MediaText {
		edit = api.NewEditMessageText(h.cfg.ChannelID, postID, withHeader(header, payload.Text))
	} else {
		edit = api.NewEditMessageCaption(h.cfg.ChannelID, postID, withHeader(header, payload.Text))
	}
	if err := requestLimited(ctx, h.lim, h.sender, h.cfg.ChannelID, edit); err != nil {
		// The persistent post map still resolves the author without the header.
		h.logger.WithError(err).WithField("post_id", postID).Warn("header rewrite failed")
	}

	session, err := h.sessions.Get(ctx, userID)
	if err == nil {
		session.PushConfession(postID)
		err = h.sessions.Save(ctx, session)
	}
	if err != nil {
		h.logger.WithError(err).WithField("post_id", postID).Warn("session update failed after publish")
	}
	if err := h.posts.UpsertPostUser(ctx, postID, userID); err != nil {
		h.logger.WithError(err).WithField("post_id", postID).Warn("post map upsert failed")
	}
	h.memory.Remember(postID, userID)
	return postID, nil
}

// markDecided rewrites the review message with the verdict, which also drops
// the inline keyboard.
func (h *Review) markDecided(ctx context.Context, msg *api.Message, headerText, verdict string) {
	text := headerText + "\n\n[" + verdict + "]"
	var edit api.Chattable
	if msg.Text != "" {
		edit = api.NewEditMessageText(msg.Chat.ID, msg.MessageID, text)
	} else {
		edit = api.NewEditMessageCaption(msg.Chat.ID, msg.MessageID, text)
	}
	if err := requestLimited(ctx, h.lim, h.sender, msg.Chat.ID, edit); err != nil {
		h.logger.WithError(err).WithField("message_id", msg.MessageID).Warn("verdict edit failed")
	}
}

func (h *Review) notifyAuthor(ctx context.Context, userID int64, text string) {
	if _, err := sendLimited(ctx, h.lim, h.sender, userID, api.NewMessage(userID, text)); err != nil {
		h.logger.WithError(err).WithField("user_id", userID).Warn("author notification failed")
	}
}

func (h *Review) answer(callbackID, text string) {
	if _, err := h.sender.Request(api.NewCallback(callbackID, text)); err != nil {
		h.logger.WithError(err).Warn("callback answer failed")
	}
}

func (h *Review) postLink(postID int) string {
	return fmt.Sprintf("https://t.me/%s/%d", h.cfg.ChannelName, postID)
}

// logDecision emits the structured audit line for a terminal moderation
// action. Discard and ban carry no post id.
func logDecision(verdict string, userID int64, postID int) {
	observability.Logger.Info("moderation decision",
		zap.String("verdict", verdict),
		zap.Int64("author_id", userID),
		zap.Int("post_id", postID),
	)
}
