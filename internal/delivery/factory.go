package delivery

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gymkhana-bot/internal/config"
	"gymkhana-bot/internal/delivery/stub"
)

func NewSender(cfg config.Config, bot *tgbotapi.BotAPI) (Sender, error) {
	switch cfg.DeliveryProvider {
	case "telegram":
		if bot == nil {
			return nil, fmt.Errorf("telegram sender needs a bot client")
		}
		return NewTelegram(bot), nil
	case "stub":
		return stub.New(), nil
	default:
		return nil, fmt.Errorf("unknown delivery provider: %s", cfg.DeliveryProvider)
	}
}
