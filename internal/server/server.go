package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/unrolled/render"

	"gymkhana-bot/internal/config"
	"gymkhana-bot/internal/models"
	"gymkhana-bot/internal/store"
	"gymkhana-bot/internal/util"
)

type Store interface {
	Ping(ctx context.Context) error
	TaskStats(ctx context.Context) (map[models.TaskStatus]int, error)
	StageByExternalID(ctx context.Context, stageID int64) (*models.Stage, error)
	BaseFigure(ctx context.Context, id int64) (*models.BaseFigure, error)
	Leaderboard(ctx context.Context, unit models.UnitRef) ([]models.LeaderboardRow, error)
	ActiveTelegramIDs(ctx context.Context) ([]int64, error)
}

type Enqueuer interface {
	ReconcileUnit(ctx context.Context, kind models.UnitKind, id int64) error
	DeliverMessage(ctx context.Context, telegramID int64, text string) error
}

func New(cfg config.Config, db Store, q Enqueuer) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(db, q, cfg.AdminJWTSecret),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewRouter builds the ops API. Admin routes are only mounted when a JWT
// secret is configured.
func NewRouter(db Store, q Enqueuer, jwtSecret string) *chi.Mux {
	rnd := render.New()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", healthHandler(db, rnd))

	r.Route("/api", func(r chi.Router) {
		r.Get("/stages/{id:\\d+}/results", stageResultsHandler(db, rnd))
		r.Get("/figures/{id:\\d+}/results", figureResultsHandler(db, rnd))

		if jwtSecret == "" {
			log.Printf("server: warning: ADMIN_JWT_SECRET is empty, admin API disabled")
			return
		}
		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdmin(jwtSecret, rnd))
			r.Post("/stages/{id:\\d+}/refresh", refreshHandler(q, models.UnitStage, rnd))
			r.Post("/figures/{id:\\d+}/refresh", refreshHandler(q, models.UnitFigure, rnd))
			r.Post("/broadcast", broadcastHandler(db, q, rnd))
		})
	})

	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func healthHandler(db Store, rnd *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			rnd.JSON(w, http.StatusServiceUnavailable, errorResponse{Error: "database unavailable"})
			return
		}
		stats, err := db.TaskStats(r.Context())
		if err != nil {
			rnd.JSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			return
		}
		rnd.JSON(w, http.StatusOK, map[string]any{
			"ok":    true,
			"tasks": stats,
			"ts":    util.NowISO(),
		})
	}
}

type unitJSON struct {
	Kind  models.UnitKind `json:"kind"`
	ID    int64           `json:"id"`
	Title string          `json:"title"`
}

type resultJSON struct {
	Place      *int   `json:"place"`
	AthleteID  int64  `json:"athlete_id"`
	Athlete    string `json:"athlete"`
	Class      string `json:"class"`
	Motorcycle string `json:"motorcycle,omitempty"`
	TimeMS     int    `json:"time_ms"`
	Time       string `json:"time"`
	Fine       int    `json:"fine"`
	Video      string `json:"video,omitempty"`
}

type resultsResponse struct {
	Unit    unitJSON     `json:"unit"`
	Results []resultJSON `json:"results"`
}

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func stageResultsHandler(db Store, rnd *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r)
		if err != nil {
			rnd.JSON(w, http.StatusBadRequest, errorResponse{Error: "bad id"})
			return
		}
		st, err := db.StageByExternalID(r.Context(), id)
		if err != nil {
			writeLookupError(w, rnd, err)
			return
		}
		// results are keyed by the local row; the API speaks external ids
		unit := models.UnitRef{Kind: models.UnitStage, ID: st.ID, ExternalID: st.StageID, Title: st.Title}
		writeResults(w, r, db, rnd, unit, unitJSON{Kind: models.UnitStage, ID: st.StageID, Title: st.Title})
	}
}

func figureResultsHandler(db Store, rnd *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r)
		if err != nil {
			rnd.JSON(w, http.StatusBadRequest, errorResponse{Error: "bad id"})
			return
		}
		f, err := db.BaseFigure(r.Context(), id)
		if err != nil {
			writeLookupError(w, rnd, err)
			return
		}
		unit := models.UnitRef{Kind: models.UnitFigure, ID: f.ID, ExternalID: f.ID, Title: f.Title}
		writeResults(w, r, db, rnd, unit, unitJSON{Kind: models.UnitFigure, ID: f.ID, Title: f.Title})
	}
}

func writeLookupError(w http.ResponseWriter, rnd *render.Render, err error) {
	if errors.Is(err, store.ErrNotFound) {
		rnd.JSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
		return
	}
	log.Printf("server: lookup: %v", err)
	rnd.JSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func writeResults(w http.ResponseWriter, r *http.Request, db Store, rnd *render.Render, unit models.UnitRef, out unitJSON) {
	rows, err := db.Leaderboard(r.Context(), unit)
	if err != nil {
		log.Printf("server: leaderboard %s: %v", unit, err)
		rnd.JSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	resp := resultsResponse{Unit: out, Results: make([]resultJSON, 0, len(rows))}
	for _, row := range rows {
		resp.Results = append(resp.Results, resultJSON{
			Place:      row.Place,
			AthleteID:  row.AthleteID,
			Athlete:    row.AthleteName,
			Class:      string(row.SportsmanClass),
			Motorcycle: row.Motorcycle,
			TimeMS:     row.TimeMS,
			Time:       util.FormatMillis(row.TimeMS),
			Fine:       row.Fine,
			Video:      row.Video,
		})
	}
	rnd.JSON(w, http.StatusOK, resp)
}

func refreshHandler(q Enqueuer, kind models.UnitKind, rnd *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r)
		if err != nil {
			rnd.JSON(w, http.StatusBadRequest, errorResponse{Error: "bad id"})
			return
		}
		if err := q.ReconcileUnit(r.Context(), kind, id); err != nil {
			log.Printf("server: enqueue %s %d: %v", kind, id, err)
			rnd.JSON(w, http.StatusInternalServerError, errorResponse{Error: "enqueue failed"})
			return
		}
		rnd.JSON(w, http.StatusAccepted, map[string]any{"queued": true, "kind": kind, "id": id})
	}
}

type broadcastRequest struct {
	Text string `json:"text"`
}

func broadcastHandler(db Store, q Enqueuer, rnd *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req broadcastRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			rnd.JSON(w, http.StatusBadRequest, errorResponse{Error: "bad json"})
			return
		}
		req.Text = strings.TrimSpace(req.Text)
		if req.Text == "" {
			rnd.JSON(w, http.StatusBadRequest, errorResponse{Error: "text is empty"})
			return
		}

		ids, err := db.ActiveTelegramIDs(r.Context())
		if err != nil {
			log.Printf("server: broadcast recipients: %v", err)
			rnd.JSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}

		queued, failed := 0, 0
		for _, id := range ids {
			if err := q.DeliverMessage(r.Context(), id, req.Text); err != nil {
				log.Printf("server: broadcast to %d: %v", id, err)
				failed++
				continue
			}
			queued++
		}
		status := http.StatusAccepted
		if queued == 0 && failed > 0 {
			status = http.StatusInternalServerError
		}
		rnd.JSON(w, status, map[string]int{"queued": queued, "failed": failed})
	}
}
