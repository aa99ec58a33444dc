package main

import (
	"context"
	"os"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/undertone/confessbot/internal/bot"
	"github.com/undertone/confessbot/internal/broadcast"
	"github.com/undertone/confessbot/internal/cache"
	"github.com/undertone/confessbot/internal/config"
	"github.com/undertone/confessbot/internal/db"
	"github.com/undertone/confessbot/internal/db/sqlite"
	"github.com/undertone/confessbot/internal/handlers"
	"github.com/undertone/confessbot/internal/infra"
	"github.com/undertone/confessbot/internal/lifecycle"
	"github.com/undertone/confessbot/internal/limiter"
	"github.com/undertone/confessbot/internal/observability"
	"github.com/undertone/confessbot/internal/resolver"
	"github.com/undertone/confessbot/internal/sequencer"
)

func main() {
	log.SetFormatter(&log.TextFormatter{
		DisableColors:    true,
		FullTimestamp:    true,
		TimestampFormat:  "2006-01-02 15:04:05",
		QuoteEmptyFields: true,
	})
	log.SetOutput(os.Stdout)

	if err := godotenv.Load(); err != nil {
		log.WithError(err).Debugln("no .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatalln("cant load config")
	}
	log.SetLevel(log.Level(cfg.LogLevel))

	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()

	if err := observability.Init(ctx, cfg.MetricsAddr); err != nil {
		log.WithError(err).Fatalln("cant initialize observability")
	}

	store := sqlite.NewSQLiteClient(infra.GetWorkDir(), "confessbot.db")
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Errorln("cant close db")
		}
	}()

	infra.GoRecoverable(-1, "process_updates", func() {
		defer cancelFunc()

		tgbot, err := api.NewBotAPI(cfg.TelegramAPIToken)
		if err != nil {
			log.WithError(err).Errorln("cant initialize bot api")
			time.Sleep(1 * time.Second)
			log.Fatalln("exiting")
		}
		tgbot.Debug = false
		log.WithField("username", tgbot.Self.UserName).Infoln("authorized")

		lim := limiter.NewFromConfig(cfg.Limits)
		service := bot.NewService(tgbot, store, lim)

		sessionCache := cache.NewTTL("sessions", 30*time.Second, handlers.SessionLoader(store))
		chatConfigCache := cache.NewTTL("chat_configs", time.Minute,
			func(ctx context.Context, chatID int64) (*db.ChatConfig, error) {
				return store.GetChatConfig(ctx, chatID)
			})
		chatListCache := cache.NewTTL("chats", cfg.ChatListRefresh,
			func(ctx context.Context, _ string) ([]int64, error) {
				return store.ChatIDs(ctx)
			})
		postCache := cache.NewTTL("post_user", 10*time.Minute,
			func(ctx context.Context, postID int) (int64, error) {
				return store.LookupPostUser(ctx, postID)
			})
		rememberCache := cache.NewTTL[int, int64]("remember", 24*time.Hour, nil)

		sessions := handlers.NewSessionService(store, sessionCache)
		postResolver := resolver.New(store, postCache, rememberCache)
		announcer := broadcast.New(
			tgbot, store, chatConfigCache, chatListCache, lim,
			cfg.ExcludedChats(), cfg.GeneralTopicID,
		)

		bot.RegisterUpdateHandler("registry", handlers.NewRegistry(service, chatListCache, &cfg))
		bot.RegisterUpdateHandler("admin", handlers.NewAdmin(service, sessions, chatConfigCache, &cfg))
		bot.RegisterUpdateHandler("confession", handlers.NewConfession(service, sessions, &cfg))
		bot.RegisterUpdateHandler("review", handlers.NewReview(service, sessions, postResolver, announcer, &cfg))
		bot.RegisterUpdateHandler("comments", handlers.NewComments(service, postResolver, &cfg))

		runtime := lifecycle.NewRuntime(
			broadcast.NewRefresher(chatListCache, cfg.ChatListRefresh),
		)
		if err := runtime.Start(ctx); err != nil {
			log.WithError(err).Fatalln("cant start components")
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			if err := runtime.Stop(stopCtx); err != nil {
				log.WithError(err).Errorln("cant stop components")
			}
		}()

		seq := sequencer.New()
		defer func() {
			seq.Close()
			seq.Wait()
		}()
		processor := bot.NewUpdateProcessor(service, seq,
			[]string{"registry", "admin", "confession", "review", "comments"})

		updateConfig := api.NewUpdate(0)
		updateConfig.Timeout = 60
		updates, updateErrors := bot.GetUpdatesChans(ctx, tgbot, updateConfig)
		for {
			select {
			case u, ok := <-updates:
				if !ok {
					return
				}
				processor.Dispatch(ctx, u)
			case err := <-updateErrors:
				log.WithError(err).Errorln("no more updates")
				return
			}
		}
	})

	<-ctx.Done()
	log.Infoln("shutting down")
}
