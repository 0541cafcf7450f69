package delivery

import (
	"context"
	"errors"
)

// ErrRecipientBlocked means the recipient refuses messages from the bot.
// Retrying will not help.
var ErrRecipientBlocked = errors.New("recipient blocked the bot")

type Sender interface {
	Name() string

	// Send delivers a plain text message to a telegram chat.
	Send(ctx context.Context, chatID int64, text string) error
}
