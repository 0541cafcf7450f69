package stub

import (
	"context"
	"log"
	"sync"

	"gymkhana-bot/internal/util"
)

// Stub sender:
// - Send: пишет сообщение в лог и запоминает последние keep сообщений, в Telegram ничего не уходит

const keep = 100

type Message struct {
	ChatID int64
	Text   string
	At     string
}

type Sender struct {
	mu   sync.Mutex
	sent []Message
}

func New() *Sender {
	return &Sender{}
}

func (s *Sender) Name() string { return "stub" }

func (s *Sender) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, Message{ChatID: chatID, Text: text, At: util.NowISO()})
	if len(s.sent) > keep {
		s.sent = append(s.sent[:0], s.sent[len(s.sent)-keep:]...)
	}
	log.Printf("delivery: stub: [%d]: %s", chatID, text)
	return nil
}

// Sent returns the most recent messages, oldest first.
func (s *Sender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.sent))
	copy(out, s.sent)
	return out
}
