package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gymkhana-bot/internal/gcup"
	"gymkhana-bot/internal/gcup/gcuptest"
	"gymkhana-bot/internal/gcup/mockgcup"
	"gymkhana-bot/internal/models"
	"gymkhana-bot/internal/store/storetest"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (n *recordingNotifier) Dispatch(_ context.Context, events []Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, events...)
	return n.err
}

type recordingPublisher struct {
	units []models.UnitRef
}

func (p *recordingPublisher) Publish(_ context.Context, unit models.UnitRef) error {
	p.units = append(p.units, unit)
	return nil
}

const apiKey = "key"

func examplePayload(ms int) map[string]any {
	return map[string]any{
		"id":     1001,
		"title":  "Stage 1",
		"status": "accepting",
		"results": []map[string]any{{
			"userId":            7,
			"userFirstName":     "A",
			"userLastName":      "B",
			"userCountry":       "RU",
			"userCity":          "Moscow",
			"resultTimeSeconds": ms,
			"resultTime":        "0:45.230",
			"motorcycle":        "Honda",
		}},
	}
}

func newImporter(t *testing.T, fake *gcuptest.FakeServer, db *storetest.Memory, opts ...Option) *Importer {
	t.Helper()
	api, err := gcup.New(fake.URL(), apiKey, time.Second)
	require.NoError(t, err)
	return NewImporter(api, db, opts...)
}

func TestImportStage(t *testing.T) {
	fake := gcuptest.NewFakeServer(apiKey)
	defer fake.Close()
	fake.SetStage(1001, examplePayload(45230))

	db := storetest.New()
	notifier := &recordingNotifier{}
	publisher := &recordingPublisher{}
	imp := newImporter(t, fake, db, WithNotifier(notifier), WithPublisher(publisher))
	ctx := context.Background()

	summary, err := imp.ImportStage(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, counters(1, 0, 0), summary.Counters())
	assert.Len(t, notifier.events, 1)
	require.Len(t, publisher.units, 1)
	assert.Equal(t, int64(1001), publisher.units[0].PublicID())
	// athlete 7 has no profile on the fake, the record fields were used
	assert.Equal(t, 1, fake.Hits("athlete"))

	summary, err = imp.ImportStage(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, counters(0, 0, 1), summary.Counters())
	assert.Len(t, notifier.events, 1, "replay must not notify")
	assert.Len(t, publisher.units, 1, "replay must not republish")

	fake.SetStage(1001, examplePayload(44000))
	summary, err = imp.ImportStage(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, counters(0, 1, 0), summary.Counters())
	require.Len(t, notifier.events, 2)
	assert.Equal(t, EventImproved, notifier.events[1].Kind)
}

func TestImportStage_Unavailable(t *testing.T) {
	fake := gcuptest.NewFakeServer(apiKey)
	defer fake.Close()

	db := storetest.New()
	imp := newImporter(t, fake, db)

	summary, err := imp.ImportStage(context.Background(), 404)
	require.NoError(t, err)
	assert.True(t, summary.Unavailable)
	assert.Equal(t, counters(0, 0, 0), summary.Counters())

	_, err = db.StageByExternalID(context.Background(), 404)
	assert.Error(t, err)
}

func TestImportStage_EmptyIsNotUnavailable(t *testing.T) {
	fake := gcuptest.NewFakeServer(apiKey)
	defer fake.Close()
	fake.SetStage(5, map[string]any{"id": 5, "title": "Soon", "status": "upcoming", "results": []any{}})

	db := storetest.New()
	summary, err := newImporter(t, fake, db).ImportStage(context.Background(), 5)
	require.NoError(t, err)
	assert.False(t, summary.Unavailable)

	st, err := db.StageByExternalID(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUpcoming, st.Status)
}

func TestImportStage_EmptyObjectKeepsStoredStage(t *testing.T) {
	fake := gcuptest.NewFakeServer(apiKey)
	defer fake.Close()
	fake.SetStage(1001, examplePayload(45230))

	db := storetest.New()
	imp := newImporter(t, fake, db)
	ctx := context.Background()

	_, err := imp.ImportStage(ctx, 1001)
	require.NoError(t, err)
	before, err := db.StageByExternalID(ctx, 1001)
	require.NoError(t, err)

	fake.SetStage(1001, map[string]any{})
	summary, err := imp.ImportStage(ctx, 1001)
	require.NoError(t, err)
	assert.True(t, summary.Unavailable)

	after, err := db.StageByExternalID(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, models.StatusAccepting, after.Status)
	assert.Equal(t, "Stage 1", after.Title)
}

func TestImportFigure_EmptyObjectIsUnavailable(t *testing.T) {
	fake := gcuptest.NewFakeServer(apiKey)
	defer fake.Close()
	fake.SetFigure(55, map[string]any{})

	db := storetest.New()
	summary, err := newImporter(t, fake, db).ImportFigure(context.Background(), 55)
	require.NoError(t, err)
	assert.True(t, summary.Unavailable)

	_, err = db.BaseFigure(context.Background(), 55)
	assert.Error(t, err)
}

func TestImportStage_RequestsConfiguredChampType(t *testing.T) {
	api := &mockgcup.Client{}
	api.On("Stage", mock.Anything, int64(9), "cup").Return(nil, gcup.ErrUnavailable).Once()

	summary, err := NewImporter(api, storetest.New(), WithChampType("cup")).ImportStage(context.Background(), 9)
	require.NoError(t, err)
	assert.True(t, summary.Unavailable)
	api.AssertExpectations(t)
}

func TestImportStage_FanoutErrorKeepsPass(t *testing.T) {
	fake := gcuptest.NewFakeServer(apiKey)
	defer fake.Close()
	fake.SetStage(1001, examplePayload(45230))

	db := storetest.New()
	notifier := &recordingNotifier{err: errors.New("queue down")}
	summary, err := newImporter(t, fake, db, WithNotifier(notifier)).ImportStage(context.Background(), 1001)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.New)
	assert.Len(t, db.Athletes(), 1)
}

func TestImportFigure(t *testing.T) {
	fake := gcuptest.NewFakeServer(apiKey)
	defer fake.Close()
	fake.SetFigure(55, map[string]any{
		"id":    55,
		"title": "Восьмёрка",
		"results": []map[string]any{
			{"userId": 7, "userFirstName": "A", "userLastName": "B", "resultTimeSeconds": 30500, "resultTime": "0:30.500", "motorcycle": "KTM"},
			{"userId": 8, "userFirstName": "C", "userLastName": "D", "resultTimeSeconds": 31000, "resultTime": "0:31.000", "motorcycle": "KTM"},
		},
	})
	fake.SetAthlete(8, map[string]any{"id": 8, "firstName": "C", "lastName": "D", "athleteClass": "B", "city": "Kazan", "country": "RU"})

	db := storetest.New()
	summary, err := newImporter(t, fake, db).Import(context.Background(), models.UnitFigure, 55)
	require.NoError(t, err)
	assert.Equal(t, counters(2, 0, 0), summary.Counters())
	assert.Equal(t, models.ClassB, db.Athletes()[8].SportsmanClass)
	assert.Equal(t, models.ClassN, db.Athletes()[7].SportsmanClass)
}

func TestImportSeason(t *testing.T) {
	fake := gcuptest.NewFakeServer(apiKey)
	defer fake.Close()
	fake.SetChampionships(
		[]any{
			map[string]any{"id": 3, "title": "GGP 2024", "year": 2024},
			map[string]any{"id": 4, "title": "GGP 2024 bis", "year": 2024},
		},
		map[int64]any{
			3: map[string]any{"id": 3, "title": "GGP 2024", "year": 2024, "stages": []map[string]any{
				{"id": 1001, "title": "Stage 1"},
				{"id": 1002, "title": "Stage 2"},
			}},
		},
	)
	fake.SetStage(1001, examplePayload(45230))

	db := storetest.New()
	report, err := newImporter(t, fake, db).ImportSeason(context.Background(), "gp", 2024, 2024)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Championships)
	assert.Equal(t, 2, report.Stages)
	// championship 4 and stage 1002 are missing on the fake
	assert.Equal(t, 2, report.Unavailable)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 1, report.Totals.New)

	st, err := db.StageByExternalID(context.Background(), 1001)
	require.NoError(t, err)
	assert.NotNil(t, st.ChampionshipID)
}

func TestRefreshAthletes(t *testing.T) {
	fake := gcuptest.NewFakeServer(apiKey)
	defer fake.Close()
	fake.SetStage(1001, examplePayload(45230))

	db := storetest.New()
	imp := newImporter(t, fake, db)
	ctx := context.Background()

	_, err := imp.ImportStage(ctx, 1001)
	require.NoError(t, err)
	require.Equal(t, models.ClassN, db.Athletes()[7].SportsmanClass)

	fake.SetAthlete(7, map[string]any{"id": 7, "firstName": "A", "lastName": "B", "athleteClass": "D1", "city": "Moscow", "country": "RU", "imgUrl": "https://img"})
	report, err := imp.RefreshAthletes(ctx)
	require.NoError(t, err)
	assert.Equal(t, RefreshReport{Updated: 1}, report)

	a := db.Athletes()[7]
	assert.Equal(t, models.ClassD1, a.SportsmanClass)
	assert.Equal(t, "https://img", a.ImgURL)
}
