package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gymkhana-bot/internal/gcup"
	"gymkhana-bot/internal/models"
	"gymkhana-bot/internal/store"
)

// Resolver maps result records to local athletes and motorcycles, creating
// them on first sight. It never emits notifications.
type Resolver struct {
	api gcup.Client
}

func NewResolver(api gcup.Client) *Resolver {
	return &Resolver{api: api}
}

// Athlete returns the athlete behind a record. A missing athlete is created
// from the full profile on the results site; when that fetch fails the
// record's own fields are used instead.
func (r *Resolver) Athlete(ctx context.Context, tx store.Tx, rec gcup.ResultRecord) (*models.Athlete, models.Outcome, error) {
	a, err := tx.Athlete(ctx, rec.UserID)
	if err == nil {
		return a, models.Found, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, models.Found, err
	}

	profile := profileFromRecord(rec)
	detail, err := r.api.Athlete(ctx, rec.UserID)
	if err != nil {
		log.Printf("ingest: warning: athlete %d profile unavailable, using result fields: %v", rec.UserID, err)
	} else {
		profile = *detail
		profile.ID = rec.UserID
	}

	a, err = r.buildAthlete(ctx, tx, profile)
	if err != nil {
		return nil, models.Found, err
	}
	if err := tx.CreateAthlete(ctx, a); err != nil {
		return nil, models.Found, err
	}
	log.Printf("ingest: new athlete %d %s (%s)", a.ID, a.FullName(), a.SportsmanClass)
	return a, models.Created, nil
}

// Refresh rebuilds an athlete from a fresh profile, resolving its city.
func (r *Resolver) Refresh(ctx context.Context, tx store.Tx, p gcup.AthletePayload) (*models.Athlete, error) {
	return r.buildAthlete(ctx, tx, p)
}

func (r *Resolver) buildAthlete(ctx context.Context, tx store.Tx, p gcup.AthletePayload) (*models.Athlete, error) {
	countryID, _, err := tx.EnsureCountry(ctx, p.Country)
	if err != nil {
		return nil, fmt.Errorf("resolve country %q: %w", p.Country, err)
	}
	cityID, _, err := tx.EnsureCity(ctx, p.City, countryID)
	if err != nil {
		return nil, fmt.Errorf("resolve city %q: %w", p.City, err)
	}

	class, ok := models.ParseClass(p.AthleteClass)
	if !ok {
		log.Printf("ingest: warning: athlete %d has unknown class %q, using N", p.ID, p.AthleteClass)
		class = models.ClassN
	}

	return &models.Athlete{
		ID:             p.ID,
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		CityID:         cityID,
		SportsmanClass: class,
		ImgURL:         p.ImgURL,
		Number:         p.Number,
	}, nil
}

func (r *Resolver) Motorcycle(ctx context.Context, tx store.Tx, title string) (int64, models.Outcome, error) {
	id, outcome, err := tx.EnsureMotorcycle(ctx, title)
	if err != nil {
		return 0, models.Found, fmt.Errorf("resolve motorcycle %q: %w", title, err)
	}
	return id, outcome, nil
}

func profileFromRecord(rec gcup.ResultRecord) gcup.AthletePayload {
	return gcup.AthletePayload{
		ID:           rec.UserID,
		FirstName:    rec.UserFirstName,
		LastName:     rec.UserLastName,
		Country:      rec.UserCountry,
		City:         rec.UserCity,
		AthleteClass: rec.AthleteClass,
		ImgURL:       rec.ImgURL,
		Number:       rec.Number,
	}
}
