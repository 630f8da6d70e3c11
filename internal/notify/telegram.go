package notify

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSink delivers reminder notifications as Telegram messages, the
// owner id being the chat id.
type TelegramSink struct {
	api *tgbotapi.BotAPI
}

func NewTelegramSink(api *tgbotapi.BotAPI) *TelegramSink {
	return &TelegramSink{api: api}
}

func (s *TelegramSink) Send(ctx context.Context, owner int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(owner, "⏰ "+text)
	if _, err := s.api.Send(msg); err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != 429 {
			// Blocked bot, unknown chat, rejected payload: retrying won't help.
			return Permanent(fmt.Errorf("telegram rejected message for %d: %w", owner, err))
		}
		return fmt.Errorf("send telegram message to %d: %w", owner, err)
	}
	return nil
}
