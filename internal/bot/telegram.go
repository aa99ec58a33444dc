package bot

import (
	"context"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
)

// notFoundMarkers are the transport phrasings that mean the destination is
// permanently gone and should be pruned rather than retried.
var notFoundMarkers = []string{
	"chat not found",
	"bot was kicked",
	"bot was blocked",
	"user is deactivated",
	"group chat was upgraded",
	"the group chat was deleted",
	"peer_id_invalid",
}

// topicMarkers mean the chat is forum-enabled and the send needs a valid
// message thread id.
var topicMarkers = []string{
	"message thread not found",
	"topic_deleted",
	"topic_closed",
}

// IsChatNotFound reports whether err means the destination chat is gone.
func IsChatNotFound(err error) bool {
	return containsAny(err, notFoundMarkers)
}

// IsTopicRequired reports whether err means the send must target a topic.
func IsTopicRequired(err error) bool {
	return containsAny(err, topicMarkers)
}

// RetryAfter extracts the transport's requested backoff from a rate-limit
// rejection.
func RetryAfter(err error) (time.Duration, bool) {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		if apiErr.RetryAfter > 0 {
			return time.Duration(apiErr.RetryAfter) * time.Second, true
		}
		if apiErr.Code == 429 {
			return 0, true
		}
	}
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "too many requests") {
		return 0, true
	}
	return 0, false
}

func containsAny(err error, markers []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range markers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Requester is the transport slice for calls that need no message back.
type Requester interface {
	Request(c api.Chattable) (*api.APIResponse, error)
}

func DeleteChatMessage(ctx context.Context, r Requester, chatID int64, messageID int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		if _, err := r.Request(api.NewDeleteMessage(chatID, messageID)); err != nil {
			return err
		}
		return nil
	}
}

func GetUpdatesChans(ctx context.Context, bot *api.BotAPI, config api.UpdateConfig) (api.UpdatesChannel, chan error) {
	ch := make(chan api.Update, bot.Buffer)
	chErr := make(chan error)

	go func() {
		defer close(ch)
		defer close(chErr)
		for {
			select {
			case <-ctx.Done():
				chErr <- ctx.Err()
				return
			default:
				updates, err := bot.GetUpdates(config)
				if err != nil {
					chErr <- err
					return
				}

				for _, update := range updates {
					if update.UpdateID >= config.Offset {
						config.Offset = update.UpdateID + 1
						select {
						case ch <- update:
						case <-ctx.Done():
							chErr <- ctx.Err()
							return
						}
					}
				}
			}
		}
	}()

	return ch, chErr
}

func GetUN(user *api.User) string {
	if user == nil {
		return ""
	}
	userName := user.UserName
	if len(userName) == 0 {
		userName = user.FirstName + " " + user.LastName
		userName = strings.TrimSpace(userName)
	}
	return userName
}
