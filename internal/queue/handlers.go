package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"gymkhana-bot/internal/delivery"
	"gymkhana-bot/internal/ingest"
	"gymkhana-bot/internal/models"
	"gymkhana-bot/internal/store"
)

type UserDeactivator interface {
	DeactivateTelegramUser(ctx context.Context, telegramID int64) error
}

// DeliverHandler sends queued messages. A recipient that cannot be reached
// after all retries, or that blocked the bot, is made inactive.
type DeliverHandler struct {
	sender delivery.Sender
	users  UserDeactivator
}

func NewDeliverHandler(sender delivery.Sender, users UserDeactivator) *DeliverHandler {
	return &DeliverHandler{sender: sender, users: users}
}

func (h *DeliverHandler) Handle(ctx context.Context, payload []byte) error {
	var m DeliverMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return Permanent(fmt.Errorf("decode message: %w", err))
	}

	log.Printf("queue: [%d]: %s", m.TelegramID, m.Text)
	err := h.sender.Send(ctx, m.TelegramID, m.Text)
	if errors.Is(err, delivery.ErrRecipientBlocked) {
		return Permanent(err)
	}
	return err
}

func (h *DeliverHandler) Abandon(ctx context.Context, payload []byte, cause error) error {
	var m DeliverMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil
	}

	log.Printf("queue: [%d]: undeliverable, deactivating user: %v", m.TelegramID, cause)
	err := h.users.DeactivateTelegramUser(ctx, m.TelegramID)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("queue: warning: no user behind telegram id %d", m.TelegramID)
		return nil
	}
	return err
}

type Importer interface {
	Import(ctx context.Context, kind models.UnitKind, id int64) (ingest.Summary, error)
}

// ReconcileHandler runs a reconciliation pass for one unit.
func ReconcileHandler(imp Importer) HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		var u ReconcileUnit
		if err := json.Unmarshal(payload, &u); err != nil {
			return Permanent(fmt.Errorf("decode unit: %w", err))
		}
		if _, ok := models.ParseUnitKind(string(u.Kind)); !ok {
			return Permanent(fmt.Errorf("unknown unit kind %q", u.Kind))
		}

		summary, err := imp.Import(ctx, u.Kind, u.ID)
		if err != nil {
			return err
		}
		log.Printf("queue: reconciled %s: %s", summary.Unit, summary)
		return nil
	}
}
