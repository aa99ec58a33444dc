package bot

import (
	"context"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/undertone/confessbot/internal/sequencer"
)

const (
	UpdateTimeout = 5 * time.Minute
)

type UpdateProcessor struct {
	s              Service
	seq            *sequencer.Sequencer
	updateHandlers []Handler
}

var registeredHandlers = make(map[string]Handler)

func RegisterUpdateHandler(title string, handler Handler) {
	registeredHandlers[title] = handler
}

func NewUpdateProcessor(s Service, seq *sequencer.Sequencer, order []string) *UpdateProcessor {
	enabledHandlers := make([]Handler, 0, len(order))
	for _, handlerName := range order {
		if _, ok := registeredHandlers[handlerName]; !ok || registeredHandlers[handlerName] == nil {
			log.Warnf("no registered handler: %s", handlerName)
			continue
		}
		enabledHandlers = append(enabledHandlers, registeredHandlers[handlerName])
	}

	return &UpdateProcessor{
		s:              s,
		seq:            seq,
		updateHandlers: enabledHandlers,
	}
}

// Dispatch hands the update to the per-actor queue: updates sharing a
// (chat,user) key run in arrival order and never overlap, unrelated actors
// proceed concurrently.
func (up *UpdateProcessor) Dispatch(ctx context.Context, u api.Update) {
	up.seq.Do(actorKey(&u), func() {
		if err := up.Process(ctx, &u); err != nil {
			log.WithError(err).Errorln("cant process update")
		}
	})
}

func (up *UpdateProcessor) Process(ctx context.Context, u *api.Update) error {
	if u == nil {
		return errors.New("update is nil")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	var updateTime time.Time
	switch {
	case u.Message != nil:
		updateTime = time.Unix(int64(u.Message.Date), 0)
	case u.EditedMessage != nil:
		updateTime = time.Unix(int64(u.EditedMessage.Date), 0)
	case u.ChannelPost != nil:
		updateTime = time.Unix(int64(u.ChannelPost.Date), 0)
	default:
		updateTime = time.Now()
	}

	if time.Since(updateTime) > UpdateTimeout {
		log.WithFields(log.Fields{
			"update_time": updateTime,
			"age":         time.Since(updateTime),
		}).Debug("Skipping outdated update")
		return nil
	}

	chat := u.FromChat()
	user := u.SentFrom()

	for _, handler := range up.updateHandlers {
		if handler == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			proceed, err := handler.Handle(ctx, u, chat, user)
			if err != nil {
				return errors.WithMessage(err, "handling error")
			}
			if !proceed {
				log.Trace("not proceeding")
				return nil
			}
		}
	}
	return nil
}

func actorKey(u *api.Update) sequencer.Key {
	key := sequencer.Key{}
	if chat := u.FromChat(); chat != nil {
		key.ChatID = chat.ID
	}
	if user := u.SentFrom(); user != nil {
		key.UserID = user.ID
	}
	return key
}
