package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/meme-tgbot-go/internal/config"
	"github.com/meme-tgbot-go/internal/handlers"
	"github.com/meme-tgbot-go/internal/i18n"
	"github.com/meme-tgbot-go/internal/middleware"
	"github.com/meme-tgbot-go/internal/services/avatar"
	"github.com/meme-tgbot-go/internal/services/collector"
	"github.com/meme-tgbot-go/internal/services/fetcher"
	"github.com/meme-tgbot-go/internal/services/generation"
	"github.com/meme-tgbot-go/internal/services/profile"
	"github.com/meme-tgbot-go/internal/services/render"
	"github.com/meme-tgbot-go/internal/services/settings"
	"github.com/meme-tgbot-go/internal/services/storage"
	"github.com/meme-tgbot-go/internal/services/templates"
	"github.com/meme-tgbot-go/pkg/logger"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil {
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting meme bot...")

	bot, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		log.WithError(err).Fatal("Failed to create bot")
	}
	bot.Debug = cfg.Logging.Level == "debug"
	log.WithField("username", bot.Self.UserName).Info("Bot authorized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := middleware.NewMetrics()

	storageManager, err := storage.NewManager(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize storage")
	}
	defer storageManager.Close()

	settingsService, err := settings.NewService(ctx, &cfg.Plugin, storageManager, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to load runtime settings")
	}
	current := settingsService.Current()
	metrics.SetSettings(current.PluginEnabled, len(current.DisabledTemplates))
	settingsService.RegisterChangeListener(func(s settings.Settings) {
		metrics.SetSettings(s.PluginEnabled, len(s.DisabledTemplates))
	})

	// Avatar cache and its cleaner
	avatarCache, err := avatar.NewCache(&cfg.AvatarCache, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize avatar cache")
	}
	cleaner := avatar.NewManager(avatarCache, cfg.AvatarCache.CleanupInterval(), log, metrics)
	if cfg.AvatarCache.Enabled {
		cleaner.Start(ctx)
	}

	netFetcher := fetcher.NewFetcher(&cfg.Network, avatarCache, log, metrics)
	if cfg.Network.AvatarSource == config.AvatarSourceTelegram {
		netFetcher.SetLocator(handlers.NewTelegramAvatars(bot))
	}
	netFetcher.SetFileLocator(handlers.NewTelegramFiles(bot))

	renderClient := render.NewClient(&cfg.Renderer, log)

	var source templates.Source
	switch cfg.Templates.Source {
	case config.TemplateSourceDirectory:
		source = templates.NewDirSource(cfg.Templates.Directory, log)
	default:
		source = templates.SourceFunc(renderClient.LoadTemplates)
	}
	index := templates.NewIndex(source, cfg.Templates.LoadTimeout, log, metrics)

	profiles := profile.NewCache(handlers.NewTelegramProfiles(bot, log), cfg.Profile.CacheTTL, log)
	paramCollector := collector.NewCollector(&cfg.Collector, netFetcher, profiles, log)
	cooldown := middleware.NewCooldown(cfg.Plugin.CooldownWindow(), log)

	pipeline := generation.NewPipeline(
		&cfg.Plugin,
		cooldown,
		index,
		settingsService,
		paramCollector,
		renderClient,
		log,
		metrics,
	)

	rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit, log)
	go rateLimiter.Run(ctx)
	pipeline.SetRateLimiter(rateLimiter)

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	// Initialize handlers
	converter := handlers.NewEventConverter(bot.Self)
	messageHandler := handlers.NewMessageHandler(
		bot,
		cfg,
		converter,
		pipeline,
		settingsService,
		index,
		localizer,
		log,
	)
	commandHandler := handlers.NewCommandHandler(
		bot,
		cfg,
		settingsService,
		index,
		avatarCache,
		cleaner,
		cooldown,
		profiles,
		localizer,
		log,
	)

	// Start metrics server if enabled
	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			status := func() any { return commandHandler.Report() }
			if err := middleware.StartMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path, status); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = cfg.Bot.UpdateTimeout
	updates := bot.GetUpdatesChan(u)
	log.Info("Using long polling")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// each update runs on its own goroutine so slow renders never block polling
	var inflight sync.WaitGroup
	go func() {
		for update := range updates {
			msg := update.Message
			if msg == nil {
				continue
			}
			metrics.RecordMessageReceived(chatType(msg.Chat))

			inflight.Add(1)
			go func() {
				defer inflight.Done()
				handleUpdate(ctx, msg, commandHandler, messageHandler, metrics, log)
			}()
		}
	}()

	<-sigChan
	log.Info("Shutdown signal received")

	bot.StopReceivingUpdates()
	cancel()

	done := make(chan struct{})
	go func() {
		inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		log.Warn("Timed out waiting for in-flight requests")
	}

	cleaner.Stop()
	log.Info("Bot stopped")
}

func handleUpdate(
	ctx context.Context,
	msg *tgbotapi.Message,
	commandHandler *handlers.CommandHandler,
	messageHandler *handlers.MessageHandler,
	metrics *middleware.Metrics,
	log *logrus.Logger,
) {
	if msg.IsCommand() {
		command := msg.Command()
		if !handlers.IsMemeCommand(command) {
			return
		}
		metrics.RecordCommandExecuted(command)
		if err := commandHandler.HandleCommand(ctx, msg); err != nil {
			log.WithError(err).WithField("command", command).Error("Failed to handle command")
		}
		return
	}

	if err := messageHandler.HandleMessage(ctx, msg); err != nil {
		log.WithError(err).Error("Failed to handle message")
	}
}

func chatType(chat *tgbotapi.Chat) string {
	if chat != nil && (chat.IsGroup() || chat.IsSuperGroup()) {
		return "group"
	}
	return "private"
}
