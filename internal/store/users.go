package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"gymkhana-bot/internal/models"
)

func (s *Store) inTx(ctx context.Context, fn func(r *repo) error) error {
	return s.Atomic(ctx, func(tx Tx) error {
		return fn(&tx.(*txStore).repo)
	})
}

// EnsureTelegramUser returns the local user linked to a telegram account,
// creating the user, the identity and an active subscription profile in one
// transaction on first contact. An inactive user who writes again is
// reactivated.
func (s *Store) EnsureTelegramUser(ctx context.Context, p models.TelegramProfile) (*models.User, models.Outcome, error) {
	var user *models.User
	var outcome models.Outcome

	err := s.inTx(ctx, func(r *repo) error {
		var err error
		user, outcome, err = r.ensureTelegramUser(ctx, p)
		return err
	})
	if errors.Is(err, ErrConflict) {
		// a concurrent first message created the user
		user, err = s.userByTelegramID(ctx, p.ID)
		return user, models.Found, err
	}
	if err != nil {
		return nil, models.Found, err
	}
	return user, outcome, nil
}

func (r *repo) ensureTelegramUser(ctx context.Context, p models.TelegramProfile) (*models.User, models.Outcome, error) {
	user, err := r.userByTelegramID(ctx, p.ID)
	if err == nil {
		if !user.IsActive {
			if _, err := r.exec(ctx, psql.Update("users").Set("is_active", true).Where(sq.Eq{"id": user.ID})); err != nil {
				return nil, models.Found, fmt.Errorf("reactivate user %d: %w", user.ID, err)
			}
			user.IsActive = true
		}
		return user, models.Found, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, models.Found, err
	}

	user = &models.User{
		Username:  "tg_" + strconv.FormatInt(p.ID, 10),
		FirstName: p.FirstName,
		LastName:  p.LastName,
		IsActive:  true,
	}
	q := psql.Insert("users").
		Columns("username", "first_name", "last_name", "is_active").
		Values(user.Username, user.FirstName, user.LastName, true).
		Suffix("RETURNING id")
	if err := r.row(ctx, q).Scan(&user.ID); err != nil {
		return nil, models.Found, fmt.Errorf("insert user: %w", err)
	}

	_, err = r.exec(ctx, psql.Insert("telegram_identities").
		Columns("user_id", "telegram_id", "username").
		Values(user.ID, p.ID, p.Username))
	if err != nil {
		return nil, models.Found, fmt.Errorf("insert telegram identity: %w", err)
	}

	_, err = r.exec(ctx, psql.Insert("user_subscriptions").
		Columns("user_id", "is_active", "source", "created_at").
		Values(user.ID, true, string(models.SourceTelegram), r.clock.Now()))
	if err != nil {
		return nil, models.Found, fmt.Errorf("insert user subscription: %w", err)
	}
	return user, models.Created, nil
}

func (r *repo) userByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	var u models.User
	q := psql.Select("u.id", "u.username", "u.first_name", "u.last_name", "u.is_active").
		From("users u").
		Join("telegram_identities ti ON ti.user_id = u.id").
		Where(sq.Eq{"ti.telegram_id": telegramID})
	if err := r.row(ctx, q).Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.IsActive); err != nil {
		return nil, fmt.Errorf("user by telegram id %d: %w", telegramID, err)
	}
	return &u, nil
}

// DeactivateTelegramUser marks the user behind a telegram account inactive so
// fanout skips them.
func (r *repo) DeactivateTelegramUser(ctx context.Context, telegramID int64) error {
	q := psql.Update("users").Set("is_active", false).
		Where("id = (SELECT user_id FROM telegram_identities WHERE telegram_id = ?)", telegramID)
	tag, err := r.exec(ctx, q)
	if err != nil {
		return fmt.Errorf("deactivate telegram user %d: %w", telegramID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deactivate telegram user %d: %w", telegramID, ErrNotFound)
	}
	return nil
}

func (r *repo) ActiveTelegramIDs(ctx context.Context) ([]int64, error) {
	q := psql.Select("ti.telegram_id").
		From("telegram_identities ti").
		Join("users u ON u.id = ti.user_id").
		Where(sq.Eq{"u.is_active": true}).
		OrderBy("ti.telegram_id")
	rows, err := r.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("select telegram ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan telegram ids: %w", err)
	}
	return ids, nil
}

// ToggleSubscription subscribes the user to a class in a competition type,
// or unsubscribes if already subscribed, and reports the new state. The
// user's subscription profile row is locked so rapid double taps apply one
// after the other.
func (s *Store) ToggleSubscription(ctx context.Context, userID int64, ct models.CompetitionType, class models.SportsmanClass) (bool, error) {
	var subscribed bool
	err := s.inTx(ctx, func(r *repo) error {
		profileID, err := r.lockProfile(ctx, userID)
		if err != nil {
			return err
		}

		key := sq.And{
			sq.Eq{"user_subscription_id": profileID},
			sq.Expr("competition_type_id = (SELECT id FROM competition_types WHERE name = ?)", string(ct)),
			sq.Expr("sportsman_class_id = (SELECT id FROM sportsman_classes WHERE name = ?)", string(class)),
		}
		tag, err := r.exec(ctx, psql.Delete("subscriptions").Where(key))
		if err != nil {
			return fmt.Errorf("delete subscription: %w", err)
		}
		if tag.RowsAffected() > 0 {
			subscribed = false
			return nil
		}

		const insert = `INSERT INTO subscriptions (user_subscription_id, competition_type_id, sportsman_class_id)
			SELECT $1, ct.id, sc.id
			FROM competition_types ct, sportsman_classes sc
			WHERE ct.name = $2 AND sc.name = $3`
		tag, err = r.q.Exec(ctx, insert, profileID, string(ct), string(class))
		if err != nil {
			return fmt.Errorf("insert subscription: %w", mapErr(err))
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("subscribe to %s/%s: %w", ct, class, ErrNotFound)
		}
		subscribed = true
		return nil
	})
	return subscribed, err
}

// lockProfile returns the user's subscription profile id, creating an active
// profile for users registered elsewhere.
func (r *repo) lockProfile(ctx context.Context, userID int64) (int64, error) {
	var id int64
	err := r.row(ctx, psql.Select("id").From("user_subscriptions").Where(sq.Eq{"user_id": userID}).Suffix("FOR UPDATE")).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return 0, fmt.Errorf("lock subscription profile: %w", err)
	}
	q := psql.Insert("user_subscriptions").
		Columns("user_id", "is_active", "source", "created_at").
		Values(userID, true, string(models.SourceSite), r.clock.Now()).
		Suffix("RETURNING id")
	if err := r.row(ctx, q).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert subscription profile: %w", err)
	}
	return id, nil
}

func (r *repo) SubscribedClasses(ctx context.Context, userID int64, ct models.CompetitionType) ([]models.SportsmanClass, error) {
	q := psql.Select("sc.name").
		From("subscriptions s").
		Join("user_subscriptions us ON us.id = s.user_subscription_id").
		Join("competition_types ct ON ct.id = s.competition_type_id").
		Join("sportsman_classes sc ON sc.id = s.sportsman_class_id").
		Where(sq.Eq{"us.user_id": userID, "ct.name": string(ct)}).
		OrderBy("sc.id")
	rows, err := r.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("select subscribed classes: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan subscribed classes: %w", err)
	}
	out := make([]models.SportsmanClass, 0, len(names))
	for _, n := range names {
		out = append(out, models.SportsmanClass(n))
	}
	return out, nil
}

// Subscribers lists users with an active profile subscribed to the class in
// the competition type. Users without a telegram identity are included with
// a nil TelegramID; filtering is up to the caller.
func (r *repo) Subscribers(ctx context.Context, ct models.CompetitionType, class models.SportsmanClass) ([]models.Subscriber, error) {
	q := psql.Select("u.id", "ti.telegram_id", "u.is_active").
		From("subscriptions s").
		Join("user_subscriptions us ON us.id = s.user_subscription_id").
		Join("competition_types ct ON ct.id = s.competition_type_id").
		Join("sportsman_classes sc ON sc.id = s.sportsman_class_id").
		Join("users u ON u.id = us.user_id").
		LeftJoin("telegram_identities ti ON ti.user_id = u.id").
		Where(sq.Eq{"us.is_active": true, "ct.name": string(ct), "sc.name": string(class)}).
		OrderBy("u.id")
	rows, err := r.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("select subscribers: %w", err)
	}
	defer rows.Close()

	var out []models.Subscriber
	for rows.Next() {
		var sub models.Subscriber
		if err := rows.Scan(&sub.UserID, &sub.TelegramID, &sub.IsActive); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (r *repo) ClassInfos(ctx context.Context) ([]models.ClassInfo, error) {
	rows, err := r.query(ctx, psql.Select("name", "description", "emoji").From("sportsman_classes").OrderBy("id"))
	if err != nil {
		return nil, fmt.Errorf("select classes: %w", err)
	}
	defer rows.Close()

	var out []models.ClassInfo
	for rows.Next() {
		var c models.ClassInfo
		var name string
		if err := rows.Scan(&name, &c.Description, &c.Emoji); err != nil {
			return nil, fmt.Errorf("scan class: %w", err)
		}
		c.Name = models.SportsmanClass(name)
		out = append(out, c)
	}
	return out, rows.Err()
}
