// Package bot is the thin Telegram command layer in front of the reminder
// service. It only parses commands and renders results; every decision about
// schedules, ownership and state lives behind the service.
package bot

import (
	"context"
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"remindbot/internal/service"
)

type Bot struct {
	api *tgbotapi.BotAPI
	svc *service.Service
}

func New(api *tgbotapi.BotAPI, svc *service.Service) *Bot {
	return &Bot{api: api, svc: svc}
}

func (b *Bot) Start(ctx context.Context) error {
	log.Printf("Authorized on account %s", b.api.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update := <-updates:
			go b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || !update.Message.IsCommand() {
		return
	}
	b.handleCommand(ctx, update.Message)
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("Failed to send message to %d: %v", chatID, err)
	}
}

func (b *Bot) sendMessagef(chatID int64, format string, args ...any) {
	b.sendMessage(chatID, fmt.Sprintf(format, args...))
}
