package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// LoadSession returns the stored conversation state of a chat. found is
// false for chats that never wrote.
func (r *repo) LoadSession(ctx context.Context, chatID int64) (state string, found bool, err error) {
	err = r.row(ctx, psql.Select("state").From("chat_sessions").Where(sq.Eq{"chat_id": chatID})).Scan(&state)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load session %d: %w", chatID, err)
	}
	return state, true, nil
}

func (r *repo) SaveSession(ctx context.Context, chatID int64, state string) error {
	q := psql.Insert("chat_sessions").
		Columns("chat_id", "state", "updated_at").
		Values(chatID, state, r.clock.Now().UTC()).
		Suffix("ON CONFLICT (chat_id) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at")
	if _, err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("save session %d: %w", chatID, err)
	}
	return nil
}

// DeleteSessionsBefore drops sessions idle since before cutoff.
func (r *repo) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.exec(ctx, psql.Delete("chat_sessions").Where(sq.Lt{"updated_at": cutoff.UTC()}))
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
