package gcuptest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
)

// FakeServer imitates the results site. Payloads are served as registered;
// unknown ids answer 404 like the real site does for removed stages.
type FakeServer struct {
	s   *httptest.Server
	key string

	mu       sync.Mutex
	stages   map[int64]any
	figures  map[int64]any
	athletes map[int64]any
	champs   []any
	details  map[int64]any
	hits     map[string]int
}

func NewFakeServer(apiKey string) *FakeServer {
	f := &FakeServer{
		key:      apiKey,
		stages:   map[int64]any{},
		figures:  map[int64]any{},
		athletes: map[int64]any{},
		details:  map[int64]any{},
		hits:     map[string]int{},
	}

	r := chi.NewRouter()
	r.Use(f.checkSignature)
	r.Get("/championships/list", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.hits["championships"]++
		writeJSON(w, f.champs)
	})
	r.Get("/championships/get", f.byID("championship", func() map[int64]any { return f.details }))
	r.Get("/stages/get", f.byID("stage", func() map[int64]any { return f.stages }))
	r.Get("/baseFigures/get", f.byID("figure", func() map[int64]any { return f.figures }))
	r.Get("/users/get", f.byID("athlete", func() map[int64]any { return f.athletes }))

	f.s = httptest.NewServer(r)
	return f
}

func (f *FakeServer) Close() {
	f.s.Close()
}

func (f *FakeServer) URL() string {
	return f.s.URL
}

func (f *FakeServer) SetStage(id int64, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages[id] = payload
}

func (f *FakeServer) SetFigure(id int64, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.figures[id] = payload
}

func (f *FakeServer) SetAthlete(id int64, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.athletes[id] = payload
}

func (f *FakeServer) SetChampionships(list []any, details map[int64]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.champs = list
	f.details = details
}

// Hits returns how many times an endpoint kind was requested.
func (f *FakeServer) Hits(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[kind]
}

func (f *FakeServer) checkSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("signature") != f.key {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte("{}"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeServer) byID(kind string, set func() map[int64]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte("{}"))
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		f.hits[kind]++
		payload, ok := set()[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("{}"))
			return
		}
		writeJSON(w, payload)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
