package handlers

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/undertone/confessbot/internal/bot"
	"github.com/undertone/confessbot/internal/codec"
	"github.com/undertone/confessbot/internal/config"
	"github.com/undertone/confessbot/internal/limiter"
	"github.com/undertone/confessbot/internal/observability"
	"github.com/undertone/confessbot/internal/throttle"
)

var linkRe = regexp.MustCompile(`(?i)(https?://|www\.|t\.me/)\S+`)

// Review keyboard callback payloads.
const (
	callbackApprove   = "mod:approve"
	callbackBroadcast = "mod:broadcast"
	callbackDiscard   = "mod:discard"
	callbackBan       = "mod:ban"
)

// Confession handles private-chat traffic: the /start command with its
// referral payload, and submissions going through validation, the cooldown
// throttle and out to the review chat.
type Confession struct {
	sender   sender
	lim      *limiter.Limiter
	sessions *SessionService
	cfg      *config.Config
	botName  string
	now      func() time.Time
	logger   *log.Entry
}

func NewConfession(s bot.Service, sessions *SessionService, cfg *config.Config) *Confession {
	return &Confession{
		sender:   s.GetBot(),
		lim:      s.GetLimiter(),
		sessions: sessions,
		cfg:      cfg,
		botName:  s.GetBot().Self.UserName,
		now:      time.Now,
		logger:   log.WithField("context", "confession"),
	}
}

func (h *Confession) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if u.Message == nil || chat == nil || user == nil {
		return true, nil
	}
	if !chat.IsPrivate() || user.IsBot {
		return true, nil
	}

	msg := u.Message
	if msg.IsCommand() {
		if msg.Command() != "start" {
			return true, nil
		}
		return false, h.handleStart(ctx, user.ID, msg.CommandArguments())
	}

	return false, h.handleSubmission(ctx, user.ID, msg)
}

func (h *Confession) handleStart(ctx context.Context, userID int64, payload string) error {
	payload = strings.TrimSpace(payload)
	if rest, found := strings.CutPrefix(payload, "ref"); found {
		if referrerID, err := strconv.ParseInt(rest, 10, 64); err == nil {
			if err := h.sessions.Referral(ctx, referrerID, userID); err == nil {
				h.logger.WithField("referrer", referrerID).WithField("referee", userID).
					Info("referral credited")
			}
		}
	}

	text := fmt.Sprintf(
		"Send me your confession and it will reach the channel anonymously once the moderators approve it.\n\n"+
			"One confession per %s. Share your personal link to earn extra slots, one per invited friend:\n"+
			"https://t.me/%s?start=ref%d",
		h.cfg.CooldownWindow, h.botName, userID,
	)
	_, err := sendLimited(ctx, h.lim, h.sender, userID, api.NewMessage(userID, text))
	return err
}

func (h *Confession) handleSubmission(ctx context.Context, userID int64, msg *api.Message) error {
	payload, ok := bot.ExtractMedia(msg)
	if !ok {
		observability.RecordSubmission("rejected_media")
		return h.reply(ctx, userID, "I can only relay text, photos, audio and voice messages.")
	}
	if (payload.Kind == bot.MediaAudio || payload.Kind == bot.MediaVoice) &&
		payload.Duration > h.cfg.MaxVoiceSeconds {
		observability.RecordSubmission("rejected_duration")
		return h.reply(ctx, userID,
			fmt.Sprintf("Recordings longer than %d seconds are not accepted.", h.cfg.MaxVoiceSeconds))
	}
	if linkRe.MatchString(payload.Text) {
		observability.RecordSubmission("rejected_link")
		// Take the link out of the chat so the invite cannot be tapped later.
		if err := bot.DeleteChatMessage(ctx, h.sender, userID, msg.MessageID); err != nil {
			h.logger.WithError(err).WithField("user_id", userID).Warn("link submission removal failed")
		}
		return h.reply(ctx, userID, "Confessions must not contain links.")
	}

	session, err := h.sessions.Get(ctx, userID)
	if err != nil {
		return err
	}

	now := h.now()
	decision := throttle.Decide(session, h.cfg.CooldownWindow, now)
	if decision.Outcome == throttle.Reject {
		observability.RecordSubmission("throttled")
		return h.reply(ctx, userID,
			fmt.Sprintf("You already confessed recently. Try again in %s.", throttle.FormatWait(decision.Wait)))
	}

	decision.Apply(session, now)
	if err := h.sessions.Save(ctx, session); err != nil {
		return err
	}

	if decision.Outcome == throttle.AcceptBanned {
		observability.RecordSubmission("shadow_discarded")
		return h.shadowDiscard(ctx, userID, payload)
	}

	header := codec.FormatPendingHeader(userID, msg.MessageID)
	markup := api.NewInlineKeyboardMarkup(
		api.NewInlineKeyboardRow(
			api.NewInlineKeyboardButtonData("Approve", callbackApprove),
			api.NewInlineKeyboardButtonData("Broadcast", callbackBroadcast),
		),
		api.NewInlineKeyboardRow(
			api.NewInlineKeyboardButtonData("Discard", callbackDiscard),
			api.NewInlineKeyboardButtonData("Ban", callbackBan),
		),
	)
	review := payload.ChattableWithMarkup(h.cfg.ReviewChatID, withHeader(header, payload.Text), &markup)
	if _, err := sendLimited(ctx, h.lim, h.sender, h.cfg.ReviewChatID, review); err != nil {
		return err
	}

	observability.RecordSubmission(decision.Outcome.String())
	confirmation := "Your confession was submitted for review."
	if decision.Outcome == throttle.AcceptWithCredit {
		confirmation = fmt.Sprintf("Your confession was submitted for review. One bonus slot spent, %d left.",
			session.FreeConfessions)
	}
	return h.reply(ctx, userID, confirmation)
}

// shadowDiscard runs the banned-user path: the author gets the same rejection
// a moderator discard would produce, while audit copies with the literal user
// id go to the review and backup chats. The author is never told about the ban.
func (h *Confession) shadowDiscard(ctx context.Context, userID int64, payload bot.MediaPayload) error {
	audit := fmt.Sprintf("%d (banned)", userID)
	for _, chatID := range []int64{h.cfg.ReviewChatID, h.cfg.BackupChatID} {
		if chatID == 0 {
			continue
		}
		if _, err := sendLimited(ctx, h.lim, h.sender, chatID,
			payload.Chattable(chatID, withHeader(audit, payload.Text))); err != nil {
			h.logger.WithError(err).WithField("chat_id", chatID).Warn("audit copy failed")
		}
	}
	return h.reply(ctx, userID, "Your confession was discarded by moderation.")
}

func (h *Confession) reply(ctx context.Context, userID int64, text string) error {
	_, err := sendLimited(ctx, h.lim, h.sender, userID, api.NewMessage(userID, text))
	return err
}

// withHeader prepends the routing header line to the body text.
func withHeader(header, text string) string {
	if text == "" {
		return header
	}
	return header + "\n\n" + text
}
