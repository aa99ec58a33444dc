package handlers

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/undertone/confessbot/internal/bot"
	"github.com/undertone/confessbot/internal/limiter"
)

// sender is the slice of the transport client the handlers use.
type sender interface {
	Send(c api.Chattable) (api.Message, error)
	Request(c api.Chattable) (*api.APIResponse, error)
}

// sendLimited sends through the class limiter for chatID and converts a
// flood-wait response into a class penalty.
func sendLimited(ctx context.Context, lim *limiter.Limiter, s sender, chatID int64, c api.Chattable) (api.Message, error) {
	var msg api.Message
	class := limiter.ClassFor(chatID)
	err := lim.Do(ctx, class, func() error {
		var err error
		msg, err = s.Send(c)
		if retryAfter, ok := bot.RetryAfter(err); ok {
			lim.Penalize(class, retryAfter)
		}
		return err
	})
	return msg, err
}

// requestLimited is sendLimited for calls with no message result.
func requestLimited(ctx context.Context, lim *limiter.Limiter, s sender, chatID int64, c api.Chattable) error {
	class := limiter.ClassFor(chatID)
	return lim.Do(ctx, class, func() error {
		_, err := s.Request(c)
		if retryAfter, ok := bot.RetryAfter(err); ok {
			lim.Penalize(class, retryAfter)
		}
		return err
	})
}
