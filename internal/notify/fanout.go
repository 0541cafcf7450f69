// Package notify turns committed result changes into one queued message per
// interested subscriber.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gymkhana-bot/internal/ingest"
	"gymkhana-bot/internal/models"
)

type Store interface {
	Subscribers(ctx context.Context, ct models.CompetitionType, class models.SportsmanClass) ([]models.Subscriber, error)
	ClassInfos(ctx context.Context) ([]models.ClassInfo, error)
	BestTime(ctx context.Context, unit models.UnitRef) (int, error)
}

type Enqueuer interface {
	DeliverMessage(ctx context.Context, telegramID int64, text string) error
}

type Fanout struct {
	db  Store
	out Enqueuer
}

var _ ingest.Notifier = (*Fanout)(nil)

func NewFanout(db Store, out Enqueuer) *Fanout {
	return &Fanout{db: db, out: out}
}

// Dispatch queues a delivery for every active subscriber of each event's
// competition type and athlete class. A failing event does not stop the
// others; all failures are returned joined.
func (f *Fanout) Dispatch(ctx context.Context, events []ingest.Event) error {
	if len(events) == 0 {
		return nil
	}

	emoji := map[models.SportsmanClass]string{}
	infos, err := f.db.ClassInfos(ctx)
	if err != nil {
		log.Printf("notify: warning: class emoji unavailable: %v", err)
	}
	for _, ci := range infos {
		emoji[ci.Name] = ci.Emoji
	}

	leaders := map[models.UnitRef]int{}
	var errs []error
	for _, ev := range events {
		if err := f.dispatch(ctx, ev, emoji, leaders); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) dispatch(ctx context.Context, ev ingest.Event, emoji map[models.SportsmanClass]string, leaders map[models.UnitRef]int) error {
	ct := ev.Unit.CompetitionType()
	class := ev.Athlete.SportsmanClass

	subs, err := f.db.Subscribers(ctx, ct, class)
	if err != nil {
		return fmt.Errorf("subscribers of %s/%s: %w", ct, class, err)
	}
	if len(subs) == 0 {
		return nil
	}

	leader, ok := leaders[ev.Unit]
	if !ok {
		leader, err = f.db.BestTime(ctx, ev.Unit)
		if err != nil {
			log.Printf("notify: warning: best time of %s unavailable: %v", ev.Unit, err)
			leader = 0
		}
		leaders[ev.Unit] = leader
	}
	text := Compose(ev, emoji[class], leader)

	var errs []error
	queued := 0
	for _, s := range subs {
		switch {
		case s.TelegramID == nil:
			log.Printf("notify: user %d has no telegram identity, skipped", s.UserID)
			continue
		case !s.IsActive:
			log.Printf("notify: user %d is inactive, skipped", s.UserID)
			continue
		}
		if err := f.out.DeliverMessage(ctx, *s.TelegramID, text); err != nil {
			errs = append(errs, fmt.Errorf("enqueue for user %d: %w", s.UserID, err))
			continue
		}
		queued++
	}
	log.Printf("notify: %s %s %s: %d of %d subscribers queued", ev.Kind, ev.Unit, ev.Athlete.FullName(), queued, len(subs))
	return errors.Join(errs...)
}
