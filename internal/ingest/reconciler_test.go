package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gymkhana-bot/internal/gcup"
	"gymkhana-bot/internal/gcup/mockgcup"
	"gymkhana-bot/internal/models"
	"gymkhana-bot/internal/store"
	"gymkhana-bot/internal/store/storetest"
)

func intp(v int) *int { return &v }

func record(userID int64, ms int) gcup.ResultRecord {
	return gcup.ResultRecord{
		UserID:        userID,
		UserFirstName: "A",
		UserLastName:  "B",
		UserCountry:   "RU",
		UserCity:      "Moscow",
		ResultTimeMS:  intp(ms),
		ResultTime:    fmt.Sprintf("0:%02d.%03d", ms/1000, ms%1000),
		Motorcycle:    "Honda",
	}
}

func stagePayload(results ...gcup.ResultRecord) *gcup.StagePayload {
	return &gcup.StagePayload{
		StageSummary: gcup.StageSummary{ID: 1001, Title: "Stage 1", Status: "accepting"},
		Results:      results,
	}
}

// offlineAPI has no athlete profiles, so athletes are built from result
// fields.
func offlineAPI() *mockgcup.Client {
	api := &mockgcup.Client{}
	api.On("Athlete", mock.Anything, mock.Anything).Return(nil, gcup.ErrUnavailable)
	return api
}

func newReconciler(db *storetest.Memory, api gcup.Client) *Reconciler {
	return NewReconciler(db, NewResolver(api))
}

func counters(newR, improved, noChange int) map[string]int {
	return map[string]int{"new_result": newR, "improved_result": improved, "no_change": noChange}
}

func TestReconcileStage_FirstSeen(t *testing.T) {
	db := storetest.New()
	r := newReconciler(db, offlineAPI())

	pass, err := r.ReconcileStage(context.Background(), stagePayload(record(7, 45230)), nil)
	require.NoError(t, err)

	assert.Equal(t, counters(1, 0, 0), pass.Summary.Counters())

	athletes := db.Athletes()
	require.Contains(t, athletes, int64(7))
	assert.Equal(t, "A B", athletes[7].FullName())
	assert.Equal(t, models.ClassN, athletes[7].SportsmanClass)
	assert.Equal(t, 1, db.MotorcycleCount())

	results := db.Results(pass.Summary.Unit)
	require.Len(t, results, 1)
	assert.Equal(t, 45230, results[0].TimeMS)
	assert.Equal(t, "0:45.230", results[0].TimeText)

	require.Len(t, pass.Events, 1)
	assert.Equal(t, EventNew, pass.Events[0].Kind)
	assert.Equal(t, "Honda", pass.Events[0].Motorcycle)
}

func TestReconcileStage_Replay(t *testing.T) {
	db := storetest.New()
	r := newReconciler(db, offlineAPI())
	ctx := context.Background()

	_, err := r.ReconcileStage(ctx, stagePayload(record(7, 45230)), nil)
	require.NoError(t, err)

	pass, err := r.ReconcileStage(ctx, stagePayload(record(7, 45230)), nil)
	require.NoError(t, err)

	assert.Equal(t, counters(0, 0, 1), pass.Summary.Counters())
	assert.Empty(t, pass.Events)
	assert.Len(t, db.Results(pass.Summary.Unit), 1)
	assert.Len(t, db.Athletes(), 1)
	assert.Equal(t, 1, db.MotorcycleCount())
}

func TestReconcileStage_Improvement(t *testing.T) {
	db := storetest.New()
	r := newReconciler(db, offlineAPI())
	ctx := context.Background()

	_, err := r.ReconcileStage(ctx, stagePayload(record(7, 45230)), nil)
	require.NoError(t, err)

	better := record(7, 44000)
	better.Place = intp(2)
	better.Video = func() *string { s := "https://youtu.be/x"; return &s }()
	pass, err := r.ReconcileStage(ctx, stagePayload(better), nil)
	require.NoError(t, err)

	assert.Equal(t, counters(0, 1, 0), pass.Summary.Counters())

	results := db.Results(pass.Summary.Unit)
	require.Len(t, results, 1)
	assert.Equal(t, 44000, results[0].TimeMS)
	assert.Equal(t, "0:44.000", results[0].TimeText)
	assert.Equal(t, "https://youtu.be/x", results[0].Video)
	require.NotNil(t, results[0].Place)
	assert.Equal(t, 2, *results[0].Place)

	require.Len(t, pass.Events, 1)
	ev := pass.Events[0]
	assert.Equal(t, EventImproved, ev.Kind)
	assert.Equal(t, 1230, ev.DeltaMS())
}

func TestReconcileStage_Classification(t *testing.T) {
	tests := map[string]struct {
		stored   int
		incoming int
		want     map[string]int
		wantTime int
	}{
		"strictly faster": {stored: 50000, incoming: 49999, want: counters(0, 1, 0), wantTime: 49999},
		"equal":           {stored: 50000, incoming: 50000, want: counters(0, 0, 1), wantTime: 50000},
		"slower":          {stored: 50000, incoming: 51000, want: counters(0, 0, 1), wantTime: 50000},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			db := storetest.New()
			r := newReconciler(db, offlineAPI())
			ctx := context.Background()

			_, err := r.ReconcileStage(ctx, stagePayload(record(7, tc.stored)), nil)
			require.NoError(t, err)

			pass, err := r.ReconcileStage(ctx, stagePayload(record(7, tc.incoming)), nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, pass.Summary.Counters())

			results := db.Results(pass.Summary.Unit)
			require.Len(t, results, 1)
			assert.Equal(t, tc.wantTime, results[0].TimeMS)
		})
	}
}

func TestReconcileStage_SkipsMalformed(t *testing.T) {
	db := storetest.New()
	r := newReconciler(db, offlineAPI())

	noTime := record(8, 0)
	noTime.ResultTimeMS = nil
	zeroTime := record(9, 0)

	pass, err := r.ReconcileStage(context.Background(), stagePayload(noTime, zeroTime, record(7, 45230), record(7, 40000)), nil)
	require.NoError(t, err)

	assert.Equal(t, counters(1, 0, 0), pass.Summary.Counters())
	assert.Equal(t, 3, pass.Summary.Skipped)
	results := db.Results(pass.Summary.Unit)
	require.Len(t, results, 1)
	// the repeat is dropped, not applied as an improvement
	assert.Equal(t, 45230, results[0].TimeMS)
}

func TestReconcileStage_ConflictSkipsRecord(t *testing.T) {
	db := storetest.New()
	db.CreateResultHook = func(res *models.Result) error {
		if res.AthleteID == 8 {
			return fmt.Errorf("stage_results_stage_id_athlete_id_key: %w", store.ErrConflict)
		}
		return nil
	}
	r := newReconciler(db, offlineAPI())

	pass, err := r.ReconcileStage(context.Background(), stagePayload(record(7, 45230), record(8, 46000), record(9, 47000)), nil)
	require.NoError(t, err)

	assert.Equal(t, counters(2, 0, 0), pass.Summary.Counters())
	assert.Equal(t, 1, pass.Summary.Conflicts)
	assert.Len(t, pass.Events, 2)

	// the savepoint also undid the athlete created for the failed record
	athletes := db.Athletes()
	assert.Contains(t, athletes, int64(7))
	assert.NotContains(t, athletes, int64(8))
	assert.Contains(t, athletes, int64(9))
}

func TestReconcileStage_UnexpectedErrorRollsBack(t *testing.T) {
	db := storetest.New()
	boom := errors.New("disk on fire")
	db.CreateResultHook = func(res *models.Result) error {
		if res.AthleteID == 8 {
			return boom
		}
		return nil
	}
	r := newReconciler(db, offlineAPI())

	pass, err := r.ReconcileStage(context.Background(), stagePayload(record(7, 45230), record(8, 46000)), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, pass)

	assert.Empty(t, db.Athletes())
	_, err = db.StageByExternalID(context.Background(), 1001)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestResolver_UsesAthleteProfile(t *testing.T) {
	db := storetest.New()
	api := &mockgcup.Client{}
	api.On("Athlete", mock.Anything, int64(7)).Return(&gcup.AthletePayload{
		ID:           7,
		FirstName:    "Анна",
		LastName:     "Петрова",
		Country:      "RU",
		City:         "Kazan",
		AthleteClass: "c2",
		Number:       intp(12),
	}, nil).Once()
	r := newReconciler(db, api)
	ctx := context.Background()

	_, err := r.ReconcileStage(ctx, stagePayload(record(7, 45230)), nil)
	require.NoError(t, err)
	// the second pass finds the athlete locally
	_, err = r.ReconcileStage(ctx, stagePayload(record(7, 45000)), nil)
	require.NoError(t, err)

	a := db.Athletes()[7]
	assert.Equal(t, "Анна Петрова", a.FullName())
	assert.Equal(t, models.ClassC2, a.SportsmanClass)
	require.NotNil(t, a.Number)
	assert.Equal(t, 12, *a.Number)
	api.AssertExpectations(t)
}

func TestReconcileFigure(t *testing.T) {
	db := storetest.New()
	r := newReconciler(db, offlineAPI())

	rec := record(7, 30500)
	rec.Place = intp(1)
	pass, err := r.ReconcileFigure(context.Background(), &gcup.FigurePayload{ID: 55, Title: "Восьмёрка", Results: []gcup.ResultRecord{rec}})
	require.NoError(t, err)

	assert.Equal(t, models.UnitRef{Kind: models.UnitFigure, ID: 55, ExternalID: 55, Title: "Восьмёрка"}, pass.Summary.Unit)
	assert.Equal(t, counters(1, 0, 0), pass.Summary.Counters())
	results := db.Results(pass.Summary.Unit)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Place)
	assert.Equal(t, models.CompetitionBaseFigure, pass.Events[0].Unit.CompetitionType())
}
