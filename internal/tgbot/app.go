package tgbot

import (
	"context"
	"log"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gymkhana-bot/internal/config"
)

// turnTimeout bounds one update, including the replies.
const turnTimeout = 30 * time.Second

// App moves updates between the Telegram API and the engine.
type App struct {
	bot    *tgbotapi.BotAPI
	engine *Engine

	wg sync.WaitGroup
}

func NewBot(cfg config.Config) (*tgbotapi.BotAPI, error) {
	if err := cfg.RequireTelegram(); err != nil {
		return nil, err
	}
	b, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, err
	}
	b.Debug = false
	return b, nil
}

func New(bot *tgbotapi.BotAPI, engine *Engine) *App {
	return &App{bot: bot, engine: engine}
}

// Run polls for updates until ctx is done. Every message is handled in its
// own goroutine; Run waits for them before returning.
func (a *App) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := a.bot.GetUpdatesChan(u)
	log.Printf("tgbot: polling as @%s", a.bot.Self.UserName)

	defer a.wg.Wait()
	defer a.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			if upd.Message == nil {
				continue
			}
			a.wg.Add(1)
			go func(m *tgbotapi.Message) {
				defer a.wg.Done()
				// an accepted update is answered even during shutdown
				tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), turnTimeout)
				defer cancel()
				a.HandleMessage(tctx, m)
			}(upd.Message)
		}
	}
}

// HandleMessage runs the engine for one message and sends its replies.
func (a *App) HandleMessage(ctx context.Context, m *tgbotapi.Message) {
	if m.From == nil || m.Chat == nil {
		return
	}

	upd := Update{
		ChatID:    m.Chat.ID,
		UserID:    m.From.ID,
		Username:  m.From.UserName,
		FirstName: m.From.FirstName,
		LastName:  m.From.LastName,
		Text:      m.Text,
	}
	for _, r := range a.engine.Handle(ctx, upd) {
		if err := a.send(upd.ChatID, r); err != nil {
			log.Printf("tgbot: reply to %d: %v", upd.ChatID, err)
			return
		}
	}
}

func (a *App) send(chatID int64, r Reply) error {
	if r.PhotoURL != "" {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(r.PhotoURL))
		photo.Caption = r.Text
		if r.Keyboard != nil {
			photo.ReplyMarkup = replyKeyboard(r.Keyboard)
		}
		_, err := a.bot.Send(photo)
		if err == nil {
			return nil
		}
		// Telegram refuses links that are not images; the link still helps
		log.Printf("tgbot: warning: photo %s to %d failed, sending text: %v", r.PhotoURL, chatID, err)
	}

	msg := tgbotapi.NewMessage(chatID, r.Text)
	if r.Keyboard != nil {
		msg.ReplyMarkup = replyKeyboard(r.Keyboard)
	}
	_, err := a.bot.Send(msg)
	return err
}

func replyKeyboard(rows [][]string) tgbotapi.ReplyKeyboardMarkup {
	kb := make([][]tgbotapi.KeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, label := range row {
			buttons = append(buttons, tgbotapi.NewKeyboardButton(label))
		}
		kb = append(kb, tgbotapi.NewKeyboardButtonRow(buttons...))
	}
	m := tgbotapi.NewReplyKeyboard(kb...)
	m.ResizeKeyboard = true
	m.OneTimeKeyboard = false
	return m
}
