package bot

import (
	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/undertone/confessbot/internal/db"
	"github.com/undertone/confessbot/internal/limiter"
)

// ServiceBot defines bot-specific operations
type ServiceBot interface {
	GetBot() *api.BotAPI
}

// ServiceDB defines database-specific operations
type ServiceDB interface {
	GetDB() db.Client
}

// Service defines the core relay service interface
type Service interface {
	ServiceBot
	ServiceDB
	GetLimiter() *limiter.Limiter
}

type service struct {
	bot *api.BotAPI
	db  db.Client
	lim *limiter.Limiter
}

func NewService(bot *api.BotAPI, db db.Client, lim *limiter.Limiter) *service {
	return &service{
		bot: bot,
		db:  db,
		lim: lim,
	}
}

func (s *service) GetBot() *api.BotAPI {
	return s.bot
}

func (s *service) GetDB() db.Client {
	return s.db
}

func (s *service) GetLimiter() *limiter.Limiter {
	return s.lim
}
