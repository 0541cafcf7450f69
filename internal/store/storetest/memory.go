// Package storetest provides an in-memory store for tests of packages that
// sit on top of the postgres store.
package storetest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"gymkhana-bot/internal/models"
	"gymkhana-bot/internal/store"
)

type cityKey struct {
	title     string
	countryID int64
}

type resultKey struct {
	kind      models.UnitKind
	unitID    int64
	athleteID int64
}

type subKey struct {
	userID int64
	ct     models.CompetitionType
	class  models.SportsmanClass
}

type data struct {
	countries     map[string]int64
	cities        map[cityKey]int64
	motorcycles   map[string]int64
	athletes      map[int64]models.Athlete
	championships map[int64]models.Championship
	stages        map[int64]models.Stage
	figures       map[int64]models.BaseFigure
	results       map[resultKey]models.Result
	users         map[int64]models.User
	telegram      map[int64]int64 // telegram id -> user id
	profiles      map[int64]bool  // user id -> subscription profile active
	subs          map[subKey]bool
	reports       []models.Report
	tasks         map[uuid.UUID]models.Task
	taskTouched   map[uuid.UUID]time.Time
	sessions      map[int64]string
	nextID        int64
}

func (d *data) clone() data {
	c := *d
	c.countries = maps.Clone(d.countries)
	c.cities = maps.Clone(d.cities)
	c.motorcycles = maps.Clone(d.motorcycles)
	c.athletes = maps.Clone(d.athletes)
	c.championships = maps.Clone(d.championships)
	c.stages = maps.Clone(d.stages)
	c.figures = maps.Clone(d.figures)
	c.results = maps.Clone(d.results)
	c.users = maps.Clone(d.users)
	c.telegram = maps.Clone(d.telegram)
	c.profiles = maps.Clone(d.profiles)
	c.subs = maps.Clone(d.subs)
	c.reports = slices.Clone(d.reports)
	c.tasks = maps.Clone(d.tasks)
	c.taskTouched = maps.Clone(d.taskTouched)
	c.sessions = maps.Clone(d.sessions)
	return c
}

// Memory implements the store operations over maps. Atomic snapshots the
// data and restores it when fn fails, so rollback behaves like the real
// store.
type Memory struct {
	mu   sync.Mutex
	txMu sync.Mutex
	d    data

	// CreateResultHook, when set, runs before a result is stored and may
	// fail the call.
	CreateResultHook func(r *models.Result) error
	// Now is used for task scheduling. Defaults to time.Now.
	Now func() time.Time
}

var _ store.Tx = (*Memory)(nil)

func New() *Memory {
	return &Memory{
		d: data{
			countries:     map[string]int64{},
			cities:        map[cityKey]int64{},
			motorcycles:   map[string]int64{},
			athletes:      map[int64]models.Athlete{},
			championships: map[int64]models.Championship{},
			stages:        map[int64]models.Stage{},
			figures:       map[int64]models.BaseFigure{},
			results:       map[resultKey]models.Result{},
			users:         map[int64]models.User{},
			telegram:      map[int64]int64{},
			profiles:      map[int64]bool{},
			subs:          map[subKey]bool{},
			tasks:         map[uuid.UUID]models.Task{},
			taskTouched:   map[uuid.UUID]time.Time{},
			sessions:      map[int64]string{},
		},
		Now: time.Now,
	}
}

func sortedKeys[V any](m map[int64]V) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (m *Memory) id() int64 {
	m.d.nextID++
	return m.d.nextID
}

type memTx struct {
	*Memory
}

func (m *Memory) Atomic(ctx context.Context, fn func(tx store.Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.savepoint(ctx, fn)
}

func (t memTx) Atomic(ctx context.Context, fn func(tx store.Tx) error) error {
	return t.savepoint(ctx, fn)
}

func (m *Memory) savepoint(ctx context.Context, fn func(tx store.Tx) error) error {
	m.mu.Lock()
	snap := m.d.clone()
	m.mu.Unlock()

	if err := fn(memTx{m}); err != nil {
		m.mu.Lock()
		m.d = snap
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Memory) EnsureCountry(_ context.Context, title string) (int64, models.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.d.countries[title]; ok {
		return id, models.Found, nil
	}
	id := m.id()
	m.d.countries[title] = id
	return id, models.Created, nil
}

func (m *Memory) EnsureCity(_ context.Context, title string, countryID int64) (int64, models.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := cityKey{title, countryID}
	if id, ok := m.d.cities[k]; ok {
		return id, models.Found, nil
	}
	id := m.id()
	m.d.cities[k] = id
	return id, models.Created, nil
}

func (m *Memory) EnsureMotorcycle(_ context.Context, title string) (int64, models.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.d.motorcycles[title]; ok {
		return id, models.Found, nil
	}
	id := m.id()
	m.d.motorcycles[title] = id
	return id, models.Created, nil
}

func (m *Memory) Athlete(_ context.Context, id int64) (*models.Athlete, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.d.athletes[id]
	if !ok {
		return nil, fmt.Errorf("athlete %d: %w", id, store.ErrNotFound)
	}
	return &a, nil
}

func (m *Memory) CreateAthlete(_ context.Context, a *models.Athlete) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.d.athletes[a.ID]; ok {
		return fmt.Errorf("athletes_pkey: %w", store.ErrConflict)
	}
	m.d.athletes[a.ID] = *a
	return nil
}

func (m *Memory) UpdateAthlete(_ context.Context, a *models.Athlete) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.d.athletes[a.ID]; !ok {
		return fmt.Errorf("update athlete %d: %w", a.ID, store.ErrNotFound)
	}
	m.d.athletes[a.ID] = *a
	return nil
}

func (m *Memory) AthleteIDs(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.d.athletes), nil
}

// Athletes returns a copy of all stored athletes.
func (m *Memory) Athletes() map[int64]models.Athlete {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.d.athletes)
}

// MotorcycleCount reports how many distinct motorcycles are stored.
func (m *Memory) MotorcycleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.d.motorcycles)
}

func (m *Memory) UpsertChampionship(_ context.Context, c *models.Championship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.d.championships[c.ChampID]; ok {
		c.ID = old.ID
	} else {
		c.ID = m.id()
	}
	m.d.championships[c.ChampID] = *c
	return nil
}

func (m *Memory) UpsertStage(_ context.Context, st *models.Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, old := range m.d.stages {
		if old.StageID == st.StageID {
			st.ID = id
			if st.ChampionshipID == nil {
				st.ChampionshipID = old.ChampionshipID
			}
			m.d.stages[id] = *st
			return nil
		}
	}
	st.ID = m.id()
	m.d.stages[st.ID] = *st
	return nil
}

func (m *Memory) StageByExternalID(_ context.Context, stageID int64) (*models.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.d.stages {
		if st.StageID == stageID {
			return &st, nil
		}
	}
	return nil, fmt.Errorf("stage %d: %w", stageID, store.ErrNotFound)
}

func (m *Memory) ActiveStages(_ context.Context) ([]models.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Stage
	for _, st := range m.d.stages {
		if st.Status.Active() {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *Memory) UpsertBaseFigure(_ context.Context, f *models.BaseFigure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.figures[f.ID] = *f
	return nil
}

func (m *Memory) BaseFigure(_ context.Context, id int64) (*models.BaseFigure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.d.figures[id]
	if !ok {
		return nil, fmt.Errorf("base figure %d: %w", id, store.ErrNotFound)
	}
	return &f, nil
}

func (m *Memory) BaseFigureIDs(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.d.figures), nil
}

func (m *Memory) Result(_ context.Context, unit models.UnitRef, athleteID int64) (*models.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.d.results[resultKey{unit.Kind, unit.ID, athleteID}]
	if !ok {
		return nil, fmt.Errorf("result %s athlete %d: %w", unit, athleteID, store.ErrNotFound)
	}
	r.Unit = unit
	return &r, nil
}

func (m *Memory) CreateResult(_ context.Context, r *models.Result) error {
	if m.CreateResultHook != nil {
		if err := m.CreateResultHook(r); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := resultKey{r.Unit.Kind, r.Unit.ID, r.AthleteID}
	if _, ok := m.d.results[k]; ok {
		return fmt.Errorf("results unique: %w", store.ErrConflict)
	}
	r.ID = m.id()
	m.d.results[k] = *r
	return nil
}

func (m *Memory) UpdateResult(_ context.Context, r *models.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := resultKey{r.Unit.Kind, r.Unit.ID, r.AthleteID}
	if _, ok := m.d.results[k]; !ok {
		return fmt.Errorf("update result %d: %w", r.ID, store.ErrNotFound)
	}
	m.d.results[k] = *r
	return nil
}

// Results returns the stored results of a unit.
func (m *Memory) Results(unit models.UnitRef) []models.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Result
	for k, r := range m.d.results {
		if k.kind == unit.Kind && k.unitID == unit.ID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeMS < out[j].TimeMS })
	return out
}

func (m *Memory) Leaderboard(_ context.Context, unit models.UnitRef) ([]models.LeaderboardRow, error) {
	results := m.Results(unit)

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.LeaderboardRow, 0, len(results))
	for _, r := range results {
		a := m.d.athletes[r.AthleteID]
		var moto string
		for title, id := range m.d.motorcycles {
			if id == r.MotorcycleID {
				moto = title
			}
		}
		out = append(out, models.LeaderboardRow{
			Place:          r.Place,
			AthleteID:      a.ID,
			AthleteName:    a.FullName(),
			SportsmanClass: a.SportsmanClass,
			Motorcycle:     moto,
			TimeMS:         r.TimeMS,
			TimeText:       r.TimeText,
			Fine:           r.Fine,
			Video:          r.Video,
		})
	}
	return out, nil
}

func (m *Memory) BestTime(ctx context.Context, unit models.UnitRef) (int, error) {
	results := m.Results(unit)
	if len(results) == 0 {
		return 0, nil
	}
	return results[0].TimeMS, nil
}

// AddUser registers a user with an optional telegram identity and returns
// its id. The subscription profile is active.
func (m *Memory) AddUser(telegramID *int64, active bool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	m.d.users[id] = models.User{ID: id, Username: "user" + strconv.FormatInt(id, 10), IsActive: active}
	m.d.profiles[id] = true
	if telegramID != nil {
		m.d.telegram[*telegramID] = id
	}
	return id
}

// Subscribe adds a subscription without going through the toggle.
func (m *Memory) Subscribe(userID int64, ct models.CompetitionType, class models.SportsmanClass) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.subs[subKey{userID, ct, class}] = true
}

// SetProfileActive switches a user's subscription profile.
func (m *Memory) SetProfileActive(userID int64, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.profiles[userID] = active
}

// User returns a stored user.
func (m *Memory) User(id int64) (models.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.d.users[id]
	return u, ok
}

// SubscriptionCount counts subscription rows for a user.
func (m *Memory) SubscriptionCount(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.d.subs {
		if k.userID == userID {
			n++
		}
	}
	return n
}

func (m *Memory) EnsureTelegramUser(_ context.Context, p models.TelegramProfile) (*models.User, models.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if uid, ok := m.d.telegram[p.ID]; ok {
		u := m.d.users[uid]
		u.IsActive = true
		m.d.users[uid] = u
		return &u, models.Found, nil
	}
	id := m.id()
	u := models.User{ID: id, Username: "tg_" + strconv.FormatInt(p.ID, 10), FirstName: p.FirstName, LastName: p.LastName, IsActive: true}
	m.d.users[id] = u
	m.d.telegram[p.ID] = id
	m.d.profiles[id] = true
	return &u, models.Created, nil
}

func (m *Memory) DeactivateTelegramUser(_ context.Context, telegramID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	uid, ok := m.d.telegram[telegramID]
	if !ok {
		return fmt.Errorf("deactivate telegram user %d: %w", telegramID, store.ErrNotFound)
	}
	u := m.d.users[uid]
	u.IsActive = false
	m.d.users[uid] = u
	return nil
}

func (m *Memory) ActiveTelegramIDs(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for tg, uid := range m.d.telegram {
		if m.d.users[uid].IsActive {
			ids = append(ids, tg)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *Memory) ToggleSubscription(_ context.Context, userID int64, ct models.CompetitionType, class models.SportsmanClass) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.d.profiles[userID]; !ok {
		m.d.profiles[userID] = true
	}
	k := subKey{userID, ct, class}
	if m.d.subs[k] {
		delete(m.d.subs, k)
		return false, nil
	}
	m.d.subs[k] = true
	return true, nil
}

func (m *Memory) SubscribedClasses(_ context.Context, userID int64, ct models.CompetitionType) ([]models.SportsmanClass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SportsmanClass
	for _, c := range models.Classes {
		if m.d.subs[subKey{userID, ct, c}] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) Subscribers(_ context.Context, ct models.CompetitionType, class models.SportsmanClass) ([]models.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byUser := map[int64]*int64{}
	for tg, uid := range m.d.telegram {
		tg := tg
		byUser[uid] = &tg
	}
	var out []models.Subscriber
	for k := range m.d.subs {
		if k.ct != ct || k.class != class || !m.d.profiles[k.userID] {
			continue
		}
		out = append(out, models.Subscriber{
			UserID:     k.userID,
			TelegramID: byUser[k.userID],
			IsActive:   m.d.users[k.userID].IsActive,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

var classEmoji = map[models.SportsmanClass]string{
	models.ClassA: "🔴", models.ClassB: "🟠",
	models.ClassC1: "🟡", models.ClassC2: "🟡", models.ClassC3: "🟡",
	models.ClassD1: "🟢", models.ClassD2: "🟢", models.ClassD3: "🟢", models.ClassD4: "🟢",
	models.ClassN: "⚪",
}

func (m *Memory) ClassInfos(_ context.Context) ([]models.ClassInfo, error) {
	out := make([]models.ClassInfo, 0, len(models.Classes))
	for _, c := range models.Classes {
		out = append(out, models.ClassInfo{Name: c, Description: "Класс " + string(c), Emoji: classEmoji[c]})
	}
	return out, nil
}

func (m *Memory) CreateReport(_ context.Context, r *models.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.id()
	r.CreatedAt = m.Now().UTC()
	m.d.reports = append(m.d.reports, *r)
	return nil
}

// Reports returns the stored reports.
func (m *Memory) Reports() []models.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.d.reports)
}

func (m *Memory) InsertTask(_ context.Context, t *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.RunAt.IsZero() {
		t.RunAt = m.Now().UTC()
	}
	t.Status = models.TaskPending
	m.d.tasks[t.ID] = *t
	m.d.taskTouched[t.ID] = m.Now()
	return nil
}

func (m *Memory) ClaimTasks(_ context.Context, limit int) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	var due []models.Task
	for _, t := range m.d.tasks {
		if t.Status == models.TaskPending && !t.RunAt.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].Status = models.TaskRunning
		due[i].Attempts++
		m.d.tasks[due[i].ID] = due[i]
		m.d.taskTouched[due[i].ID] = now
	}
	return due, nil
}

func (m *Memory) setTask(id uuid.UUID, fn func(t *models.Task)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.d.tasks[id]
	if !ok {
		return fmt.Errorf("update task %s: %w", id, store.ErrNotFound)
	}
	fn(&t)
	m.d.tasks[id] = t
	m.d.taskTouched[id] = m.Now()
	return nil
}

func (m *Memory) CompleteTask(_ context.Context, id uuid.UUID) error {
	return m.setTask(id, func(t *models.Task) { t.Status = models.TaskDone })
}

func (m *Memory) RetryTask(_ context.Context, id uuid.UUID, runAt time.Time, lastErr string) error {
	return m.setTask(id, func(t *models.Task) {
		t.Status = models.TaskPending
		t.RunAt = runAt
		t.LastError = lastErr
	})
}

func (m *Memory) FailTask(_ context.Context, id uuid.UUID, lastErr string) error {
	return m.setTask(id, func(t *models.Task) {
		t.Status = models.TaskFailed
		t.LastError = lastErr
	})
}

func (m *Memory) RequeueStale(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.d.tasks {
		if t.Status != models.TaskRunning || !m.d.taskTouched[id].Before(cutoff) {
			continue
		}
		t.Status = models.TaskPending
		m.d.tasks[id] = t
		m.d.taskTouched[id] = m.Now()
		n++
	}
	return n, nil
}

func (m *Memory) ReleaseTasks(_ context.Context, ids []uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		t, ok := m.d.tasks[id]
		if !ok || t.Status != models.TaskRunning {
			continue
		}
		t.Status = models.TaskPending
		if t.Attempts > 0 {
			t.Attempts--
		}
		m.d.tasks[id] = t
		m.d.taskTouched[id] = m.Now()
		n++
	}
	return n, nil
}

// Tasks returns stored tasks of a kind, oldest run time first.
func (m *Memory) Tasks(kind string) []models.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Task
	for _, t := range m.d.tasks {
		if kind == "" || t.Kind == kind {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out
}

func (m *Memory) LoadSession(_ context.Context, chatID int64) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.d.sessions[chatID]
	return s, ok, nil
}

func (m *Memory) SaveSession(_ context.Context, chatID int64, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.sessions[chatID] = state
	return nil
}

// DeleteSessionsBefore drops every session; the memory store keeps no
// timestamps.
func (m *Memory) DeleteSessionsBefore(_ context.Context, _ time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.d.sessions))
	m.d.sessions = map[int64]string{}
	return n, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) TaskStats(_ context.Context) (map[models.TaskStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[models.TaskStatus]int{}
	for _, t := range m.d.tasks {
		out[t.Status]++
	}
	return out, nil
}
