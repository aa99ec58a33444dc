package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

type (
	Config struct {
		TelegramAPIToken string `env:"TOKEN,required"`

		// ChannelID is the public channel confessions are published to.
		ChannelID int64 `env:"CHANNEL_ID,required"`
		// ChannelName is the channel's public username, used for t.me links.
		ChannelName string `env:"CHANNEL_NAME,required"`
		// ReviewChatID is where pending items await a moderator decision.
		ReviewChatID int64 `env:"REVIEW_CHAT_ID,required"`
		// DiscussionChatID is the comments chat linked to the channel.
		DiscussionChatID int64 `env:"DISCUSSION_CHAT_ID,required"`
		// BackupChatID receives audit copies of banned-user submissions.
		BackupChatID int64 `env:"BACKUP_CHAT_ID"`
		// LogChatID receives one-time chat metadata reports.
		LogChatID int64 `env:"LOG_CHAT_ID"`

		CooldownWindow  time.Duration `env:"COOLDOWN,default=24h"`
		MaxVoiceSeconds int           `env:"MAX_VOICE_SECONDS,default=121"`
		GeneralTopicID  int           `env:"GENERAL_TOPIC_ID,default=1"`

		ChatListRefresh time.Duration `env:"CHAT_LIST_REFRESH,default=60s"`

		LogLevel    int    `env:"LOG_LEVEL,default=4"`
		MetricsAddr string `env:"METRICS_ADDR,default=:2112"`
		DotPath     string `env:"DOT_PATH,default=~/.confessbot"`

		Limits Limits
	}

	Limits struct {
		GlobalConcurrent int           `env:"LIMIT_GLOBAL_CONCURRENT,default=30"`
		GlobalSpacing    time.Duration `env:"LIMIT_GLOBAL_SPACING,default=35ms"`
		GroupConcurrent  int           `env:"LIMIT_GROUP_CONCURRENT,default=4"`
		GroupSpacing     time.Duration `env:"LIMIT_GROUP_SPACING,default=1100ms"`
		GroupReservoir   int           `env:"LIMIT_GROUP_RESERVOIR,default=20"`
		GroupRefill      time.Duration `env:"LIMIT_GROUP_REFILL,default=60s"`
		DMConcurrent     int           `env:"LIMIT_DM_CONCURRENT,default=10"`
		DMSpacing        time.Duration `env:"LIMIT_DM_SPACING,default=60ms"`
		DMReservoir      int           `env:"LIMIT_DM_RESERVOIR,default=30"`
		DMRefill         time.Duration `env:"LIMIT_DM_REFILL,default=1s"`
		Penalty          time.Duration `env:"LIMIT_PENALTY,default=5s"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg := &Config{}
		envcfg := envconfig.Config{
			Lookuper: envconfig.PrefixLookuper("CB_", envconfig.OsLookuper()),
			Target:   cfg,
		}
		if err := envconfig.ProcessWith(context.Background(), &envcfg); err != nil {
			globalErr = fmt.Errorf("process env config: %w", err)
			return
		}
		expanded, err := homedir.Expand(cfg.DotPath)
		if err != nil {
			globalErr = fmt.Errorf("expand dot path: %w", err)
			return
		}
		cfg.DotPath = expanded
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}

// ExcludedChats is the fixed set of destinations the broadcast fan-out must
// never target: the channel itself and the service chats around it.
func (c Config) ExcludedChats() map[int64]struct{} {
	return map[int64]struct{}{
		c.ChannelID:        {},
		c.ReviewChatID:     {},
		c.DiscussionChatID: {},
		c.BackupChatID:     {},
		c.LogChatID:        {},
	}
}
