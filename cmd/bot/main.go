package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"remindbot/internal/bot"
	"remindbot/internal/clock"
	"remindbot/internal/config"
	"remindbot/internal/database"
	"remindbot/internal/notify"
	"remindbot/internal/scheduler"
	"remindbot/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.DatabaseURI == "" {
		log.Fatal("DATABASE_URI is required")
	}
	if cfg.TelegramToken == "" {
		log.Fatal("TELEGRAM_TOKEN is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := database.Open(ctx, cfg.DatabaseURI)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()
	log.Println("Database ready")

	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		log.Fatalf("Failed to create Telegram API: %v", err)
	}

	clk := clock.New()
	dispatcher := notify.NewDispatcher(
		notify.NewTelegramSink(api), clk,
		cfg.DeliveryRetries, cfg.DeliveryTimeout, cfg.DeliveryBackoff)
	sched := scheduler.New(store, dispatcher, clk)
	svc := service.New(store, sched, clk)

	// Re-arm whatever was pending before the restart, then start the
	// coordinator.
	if err := svc.Restore(ctx); err != nil {
		log.Fatalf("Failed to restore pending reminders: %v", err)
	}
	go sched.Run(ctx)

	// Handle graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down...")
		cancel()
	}()

	log.Println("Starting bot...")
	if err := bot.New(api, svc).Start(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Bot error: %v", err)
	}
}
