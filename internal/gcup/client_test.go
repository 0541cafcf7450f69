package gcup

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gymkhana-bot/internal/gcup/gcuptest"
)

const testKey = "secret"

func newTestClient(t *testing.T, url string) Client {
	t.Helper()
	c, err := New(url, testKey, 2*time.Second)
	require.NoError(t, err)
	return c
}

func TestStage(t *testing.T) {
	fake := gcuptest.NewFakeServer(testKey)
	defer fake.Close()

	fake.SetStage(1001, map[string]any{
		"id":     1001,
		"title":  "Stage 1",
		"status": "accepting",
		"results": []map[string]any{{
			"userId":            7,
			"userFirstName":     "A",
			"userLastName":      "B",
			"userCountry":       "RU",
			"userCity":          "Moscow",
			"resultTimeSeconds": 45230,
			"resultTime":        "0:45.230",
			"motorcycle":        "Honda",
		}},
	})

	c := newTestClient(t, fake.URL())
	st, err := c.Stage(context.Background(), 1001, "gp")
	require.NoError(t, err)

	assert.Equal(t, int64(1001), st.ID)
	assert.Equal(t, "accepting", st.Status)
	require.Len(t, st.Results, 1)
	r := st.Results[0]
	assert.Equal(t, int64(7), r.UserID)
	assert.True(t, r.HasTime())
	assert.Equal(t, 45230, *r.ResultTimeMS)
	assert.Equal(t, "Honda", r.Motorcycle)
	assert.Nil(t, r.Place)
}

func TestStageEmptyResultsIsNotAnError(t *testing.T) {
	fake := gcuptest.NewFakeServer(testKey)
	defer fake.Close()
	fake.SetStage(5, map[string]any{"id": 5, "title": "Empty", "results": []any{}})

	st, err := newTestClient(t, fake.URL()).Stage(context.Background(), 5, "gp")
	require.NoError(t, err)
	assert.Empty(t, st.Results)
}

func TestEmptyObjectIsUnavailable(t *testing.T) {
	fake := gcuptest.NewFakeServer(testKey)
	defer fake.Close()
	fake.SetStage(5, map[string]any{})
	fake.SetFigure(6, map[string]any{})

	c := newTestClient(t, fake.URL())
	_, err := c.Stage(context.Background(), 5, "gp")
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = c.BaseFigure(context.Background(), 6)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestUnavailable(t *testing.T) {
	fake := gcuptest.NewFakeServer(testKey)
	defer fake.Close()

	tests := map[string]struct {
		call func(c Client) error
	}{
		"missing stage": {call: func(c Client) error {
			_, err := c.Stage(context.Background(), 404, "gp")
			return err
		}},
		"missing figure": {call: func(c Client) error {
			_, err := c.BaseFigure(context.Background(), 404)
			return err
		}},
		"missing athlete": {call: func(c Client) error {
			_, err := c.Athlete(context.Background(), 404)
			return err
		}},
	}

	c := newTestClient(t, fake.URL())
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := tc.call(c)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnavailable), "expected ErrUnavailable, got %v", err)
		})
	}
}

func TestWrongSignature(t *testing.T) {
	fake := gcuptest.NewFakeServer("other")
	defer fake.Close()

	_, err := newTestClient(t, fake.URL()).Stage(context.Background(), 1, "gp")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).BaseFigure(context.Background(), 1)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL, testKey, 50*time.Millisecond)
	require.NoError(t, err)

	_, err = c.Stage(context.Background(), 1, "gp")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestChampionships(t *testing.T) {
	fake := gcuptest.NewFakeServer(testKey)
	defer fake.Close()

	fake.SetChampionships(
		[]any{map[string]any{"id": 3, "title": "GGP 2024", "year": 2024}},
		map[int64]any{3: map[string]any{
			"id": 3, "title": "GGP 2024", "year": 2024,
			"stages": []map[string]any{{"id": 1001, "title": "Stage 1", "status": "completed"}},
		}},
	)

	c := newTestClient(t, fake.URL())
	list, err := c.Championships(context.Background(), "gp", 2024, 2024)
	require.NoError(t, err)
	require.Len(t, list, 1)

	detail, err := c.Championship(context.Background(), list[0].ID, "gp")
	require.NoError(t, err)
	require.Len(t, detail.Stages, 1)
	assert.Equal(t, int64(1001), detail.Stages[0].ID)
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New("", testKey, time.Second)
	assert.Error(t, err)
}
