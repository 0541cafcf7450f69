// Package sheets mirrors unit leaderboards into a Google spreadsheet, one
// sheet per stage or base figure.
package sheets

import (
	"context"
	"fmt"
	"log"

	"gymkhana-bot/internal/ingest"
	"gymkhana-bot/internal/models"
	"gymkhana-bot/internal/util"
)

var header = []interface{}{"Место", "Спортсмен", "Класс", "Мотоцикл", "Время", "Штраф", "Видео"}

type Store interface {
	Leaderboard(ctx context.Context, unit models.UnitRef) ([]models.LeaderboardRow, error)
}

type Publisher struct {
	c  *Client
	db Store
}

var _ ingest.Publisher = (*Publisher)(nil)

func NewPublisher(c *Client, db Store) *Publisher {
	return &Publisher{c: c, db: db}
}

// SheetName is stage-<id> or figure-<id>, by the results site id so that it
// matches the HTTP API paths.
func SheetName(unit models.UnitRef) string {
	return fmt.Sprintf("%s-%d", unit.Kind, unit.PublicID())
}

// Publish replaces the unit's sheet with its current leaderboard.
func (p *Publisher) Publish(ctx context.Context, unit models.UnitRef) error {
	rows, err := p.db.Leaderboard(ctx, unit)
	if err != nil {
		return fmt.Errorf("leaderboard %s: %w", unit, err)
	}

	sheet := SheetName(unit)
	if err := p.c.ensureSheet(ctx, sheet); err != nil {
		return err
	}
	if err := p.c.clear(ctx, sheet); err != nil {
		return fmt.Errorf("clear %s: %w", sheet, err)
	}
	if err := p.c.update(ctx, sheet, leaderboardValues(rows)); err != nil {
		return fmt.Errorf("update %s: %w", sheet, err)
	}
	log.Printf("sheets: %s published, %d rows", sheet, len(rows))
	return nil
}

func leaderboardValues(rows []models.LeaderboardRow) [][]interface{} {
	out := make([][]interface{}, 0, len(rows)+1)
	out = append(out, header)
	for i, r := range rows {
		place := i + 1
		if r.Place != nil {
			place = *r.Place
		}
		out = append(out, []interface{}{
			place,
			r.AthleteName,
			string(r.SportsmanClass),
			r.Motorcycle,
			util.FormatMillis(r.TimeMS),
			r.Fine,
			r.Video,
		})
	}
	return out
}
