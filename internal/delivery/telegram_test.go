package delivery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gymkhana-bot/internal/config"
	"gymkhana-bot/internal/delivery/tgfake"
)

func TestTelegramSend(t *testing.T) {
	fake := tgfake.NewFakeTelegram()
	defer fake.Close()
	bot, err := fake.Bot()
	require.NoError(t, err)

	fake.Block(2)
	fake.FailNext(3, 1)
	sender := NewTelegram(bot)

	tests := map[string]struct {
		chatID      int64
		wantErr     bool
		wantBlocked bool
	}{
		"delivered":     {chatID: 1},
		"blocked":       {chatID: 2, wantErr: true, wantBlocked: true},
		"server failed": {chatID: 3, wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := sender.Send(context.Background(), tc.chatID, "привет")
			if !tc.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.wantBlocked, errors.Is(err, ErrRecipientBlocked))
		})
	}

	calls := fake.Calls("sendMessage")
	require.Len(t, calls, 3)
	for _, c := range calls {
		assert.Equal(t, "привет", c.Text)
	}
}

func TestTelegramSend_CanceledContext(t *testing.T) {
	fake := tgfake.NewFakeTelegram()
	defer fake.Close()
	bot, err := fake.Bot()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = NewTelegram(bot).Send(ctx, 1, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fake.Calls("sendMessage"))
}

func TestNewSender(t *testing.T) {
	fake := tgfake.NewFakeTelegram()
	defer fake.Close()
	bot, err := fake.Bot()
	require.NoError(t, err)

	tests := map[string]struct {
		provider string
		withBot  bool
		wantName string
		wantErr  bool
	}{
		"telegram":        {provider: "telegram", withBot: true, wantName: "telegram"},
		"telegram no bot": {provider: "telegram", wantErr: true},
		"stub":            {provider: "stub", wantName: "stub"},
		"unknown":         {provider: "pigeon", wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := config.Config{DeliveryProvider: tc.provider}
			b := bot
			if !tc.withBot {
				b = nil
			}
			s, err := NewSender(cfg, b)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantName, s.Name())
		})
	}
}
