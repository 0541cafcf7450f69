package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Telegram struct {
	bot *tgbotapi.BotAPI
}

func NewTelegram(bot *tgbotapi.BotAPI) *Telegram {
	return &Telegram{bot: bot}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := t.bot.Send(tgbotapi.NewMessage(chatID, text))
	if err == nil {
		return nil
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden {
		return fmt.Errorf("send to %d: %s: %w", chatID, apiErr.Message, ErrRecipientBlocked)
	}
	return fmt.Errorf("send to %d: %w", chatID, err)
}
