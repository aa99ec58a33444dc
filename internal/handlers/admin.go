package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/undertone/confessbot/internal/bot"
	"github.com/undertone/confessbot/internal/cache"
	"github.com/undertone/confessbot/internal/config"
	"github.com/undertone/confessbot/internal/db"
	apperrors "github.com/undertone/confessbot/internal/errors"
	"github.com/undertone/confessbot/internal/limiter"
)

const memberCacheTTL = 5 * time.Minute

// memberGateway is the chat-membership lookup slice of the transport client.
type memberGateway interface {
	GetChatMember(config api.GetChatMemberConfig) (api.ChatMember, error)
}

type memberKey struct {
	ChatID int64
	UserID int64
}

// adminStore is the slice of the store the admin commands write through.
type adminStore interface {
	PutChatConfig(ctx context.Context, config *db.ChatConfig) error
	CountChats(ctx context.Context) (int, error)
}

// Admin handles the moderator and group-admin command surface: broadcast
// topic management inside groups, ban lifting, credit grants and the
// subscriber count inside the review chat.
type Admin struct {
	sender   sender
	lim      *limiter.Limiter
	sessions *SessionService
	store    adminStore
	configs  *cache.TTL[int64, *db.ChatConfig]
	members  *cache.TTL[memberKey, bool]
	cfg      *config.Config
	logger   *log.Entry
}

func NewAdmin(
	s bot.Service,
	sessions *SessionService,
	configs *cache.TTL[int64, *db.ChatConfig],
	cfg *config.Config,
) *Admin {
	var gateway memberGateway = s.GetBot()
	members := cache.NewTTL("chat_admins", memberCacheTTL,
		func(ctx context.Context, key memberKey) (bool, error) {
			member, err := gateway.GetChatMember(api.GetChatMemberConfig{
				ChatConfigWithUser: api.ChatConfigWithUser{
					UserID:     key.UserID,
					ChatConfig: api.ChatConfig{ChatID: key.ChatID},
				},
			})
			if err != nil {
				return false, err
			}
			return member.IsCreator() || member.IsAdministrator(), nil
		})
	return &Admin{
		sender:   s.GetBot(),
		lim:      s.GetLimiter(),
		sessions: sessions,
		store:    s.GetDB(),
		configs:  configs,
		members:  members,
		cfg:      cfg,
		logger:   log.WithField("context", "admin"),
	}
}

func (h *Admin) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if u.Message == nil || chat == nil || user == nil {
		return true, nil
	}
	msg := u.Message
	if !msg.IsCommand() {
		return true, nil
	}

	if chat.ID == h.cfg.ReviewChatID {
		return h.handleModeratorCommand(ctx, msg)
	}
	if chat.IsGroup() || chat.IsSuperGroup() {
		return h.handleGroupCommand(ctx, msg, chat, user)
	}
	return true, nil
}

func (h *Admin) handleGroupCommand(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User) (bool, error) {
	switch msg.Command() {
	case "set_topic", "get_topic", "clear_topic":
	default:
		return true, nil
	}

	isAdmin, err := h.members.Get(ctx, memberKey{ChatID: chat.ID, UserID: user.ID})
	if err != nil {
		return false, errors.WithMessage(err, "chat member lookup")
	}
	if !isAdmin {
		return false, nil
	}

	cfg, err := h.configs.Get(ctx, chat.ID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return false, err
		}
		cfg = &db.ChatConfig{ID: chat.ID}
	}

	switch msg.Command() {
	case "set_topic":
		threadID := msg.MessageThreadID
		if arg := strings.TrimSpace(msg.CommandArguments()); arg != "" {
			threadID, err = strconv.Atoi(arg)
			if err != nil {
				return false, h.reply(ctx, chat.ID, "Usage: /set_topic [topic id], or send it inside the topic.")
			}
		}
		cfg.ThreadID = threadID
		if err := h.saveChatConfig(ctx, cfg); err != nil {
			return false, err
		}
		return false, h.reply(ctx, chat.ID, fmt.Sprintf("Broadcast topic set to %d.", threadID))

	case "get_topic":
		if cfg.ThreadID == 0 {
			return false, h.reply(ctx, chat.ID, "No broadcast topic configured, announcements go to the main chat.")
		}
		return false, h.reply(ctx, chat.ID, fmt.Sprintf("Broadcast topic is %d.", cfg.ThreadID))

	case "clear_topic":
		cfg.ThreadID = 0
		if err := h.saveChatConfig(ctx, cfg); err != nil {
			return false, err
		}
		return false, h.reply(ctx, chat.ID, "Broadcast topic cleared.")
	}
	return false, nil
}

func (h *Admin) handleModeratorCommand(ctx context.Context, msg *api.Message) (bool, error) {
	args := strings.Fields(msg.CommandArguments())
	switch msg.Command() {
	case "unban":
		if len(args) != 1 {
			return false, h.reply(ctx, msg.Chat.ID, "Usage: /unban <user id>")
		}
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return false, h.reply(ctx, msg.Chat.ID, "Usage: /unban <user id>")
		}
		if err := h.sessions.SetBanned(ctx, userID, false); err != nil {
			return false, err
		}
		return false, h.reply(ctx, msg.Chat.ID, fmt.Sprintf("User %d unbanned.", userID))

	case "grant":
		if len(args) != 2 {
			return false, h.reply(ctx, msg.Chat.ID, "Usage: /grant <user id> <credits>")
		}
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return false, h.reply(ctx, msg.Chat.ID, "Usage: /grant <user id> <credits>")
		}
		credits, err := strconv.Atoi(args[1])
		if err != nil || credits <= 0 {
			return false, h.reply(ctx, msg.Chat.ID, "Usage: /grant <user id> <credits>")
		}
		if err := h.sessions.Grant(ctx, userID, credits); err != nil {
			return false, err
		}
		return false, h.reply(ctx, msg.Chat.ID,
			fmt.Sprintf("Granted %d bonus confessions to %d.", credits, userID))

	case "chats":
		count, err := h.store.CountChats(ctx)
		if err != nil {
			return false, err
		}
		return false, h.reply(ctx, msg.Chat.ID, fmt.Sprintf("Known subscriber chats: %d.", count))
	}
	return true, nil
}

func (h *Admin) saveChatConfig(ctx context.Context, cfg *db.ChatConfig) error {
	if err := h.store.PutChatConfig(ctx, cfg); err != nil {
		return err
	}
	h.configs.Invalidate(cfg.ID)
	return nil
}

func (h *Admin) reply(ctx context.Context, chatID int64, text string) error {
	_, err := sendLimited(ctx, h.lim, h.sender, chatID, api.NewMessage(chatID, text))
	return err
}
