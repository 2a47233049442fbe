package main

import (
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/velkro/remindgram/internal/assistant"
	"github.com/velkro/remindgram/internal/bot"
	"github.com/velkro/remindgram/internal/scheduler"
	"github.com/velkro/remindgram/internal/storage"
	"github.com/velkro/remindgram/pkg/config"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	location := cfg.Scheduler.Location()

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		dbConfig := storage.DatabaseConfig{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			DBName:      cfg.Database.DBName,
			SSLMode:     cfg.Database.SSLMode,
			UseInMemory: cfg.Database.UseInMemory,
		}
		store, err = storage.NewPostgresStorage(dbConfig, logger)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	// Initialize the conversational assistant
	asst := assistant.New(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.Model,
		cfg.OpenAI.MaxTokens,
		cfg.OpenAI.Temperature,
		cfg.Assistant.HistoryWindow,
		location,
		store,
		logger,
	)

	// Initialize bot
	b, err := bot.New(cfg.Telegram.Token, cfg.Telegram.AdminChatID, location, store, asst, logger)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	// Start the reminder poller; the bot is its notification sink
	poller := scheduler.New(
		store,
		b,
		location,
		cfg.Scheduler.PollInterval,
		cfg.Scheduler.EscalationInterval,
		logger,
	)
	if err := poller.Start(); err != nil {
		logger.Fatal("Failed to start poller", zap.Error(err))
	}

	// Stop everything on SIGINT/SIGTERM
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("Shutting down")
		poller.Stop()
		b.Stop()
	}()

	// Start the bot
	if err := b.Start(); err != nil {
		logger.Fatal("Bot error", zap.Error(err))
	}
}
