package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/itbasis/go-clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gymkhana-bot/internal/delivery"
	"gymkhana-bot/internal/delivery/stub"
	"gymkhana-bot/internal/ingest"
	"gymkhana-bot/internal/models"
	"gymkhana-bot/internal/store/storetest"
)

type flakySender struct {
	mu       sync.Mutex
	failures int // -1 fails forever
	err      error
	sent     []string
}

func (s *flakySender) Name() string { return "flaky" }

func (s *flakySender) Send(_ context.Context, chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures != 0 {
		if s.failures > 0 {
			s.failures--
		}
		return s.err
	}
	s.sent = append(s.sent, fmt.Sprintf("%d:%s", chatID, text))
	return nil
}

func noJitter() Policy {
	p := DefaultPolicy()
	p.Jitter = func(d time.Duration) time.Duration { return d }
	return p
}

type fixture struct {
	db    *storetest.Memory
	clock *clock.Mock
	q     *Queue
}

func newFixture(t *testing.T, sender delivery.Sender) *fixture {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	db := storetest.New()
	db.Now = clk.Now

	q := New(db, clk, noJitter())
	q.Register(KindDeliverMessage, NewDeliverHandler(sender, db))
	return &fixture{db: db, clock: clk, q: q}
}

func (f *fixture) runOnce(t *testing.T) int {
	t.Helper()
	n, err := f.q.RunOnce(context.Background(), 10)
	require.NoError(t, err)
	return n
}

func (f *fixture) onlyTask(t *testing.T, kind string) models.Task {
	t.Helper()
	tasks := f.db.Tasks(kind)
	require.Len(t, tasks, 1)
	return tasks[0]
}

func TestPolicyBackoff(t *testing.T) {
	tests := map[string]struct {
		retry int
		want  time.Duration
	}{
		"first":   {retry: 1, want: 30 * time.Second},
		"second":  {retry: 2, want: 60 * time.Second},
		"third":   {retry: 3, want: 120 * time.Second},
		"fourth":  {retry: 4, want: 240 * time.Second},
		"fifth":   {retry: 5, want: 480 * time.Second},
		"capped":  {retry: 6, want: 600 * time.Second},
		"far out": {retry: 40, want: 600 * time.Second},
	}

	p := DefaultPolicy()
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, p.Backoff(tc.retry))
		})
	}
}

func TestPolicyDelayIsJittered(t *testing.T) {
	p := DefaultPolicy()
	seen := map[time.Duration]bool{}
	for i := 0; i < 200; i++ {
		d := p.Delay(3)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 120*time.Second)
		seen[d] = true
	}
	assert.Greater(t, len(seen), 1)
	assert.Equal(t, 5, p.MaxAttempts())
}

func TestDeliver(t *testing.T) {
	sender := stub.New()
	f := newFixture(t, sender)
	ctx := context.Background()

	require.NoError(t, f.q.DeliverMessage(ctx, 42, "hello"))
	task := f.onlyTask(t, KindDeliverMessage)
	assert.Equal(t, models.TaskPending, task.Status)
	assert.Equal(t, 5, task.MaxAttempts)

	assert.Equal(t, 1, f.runOnce(t))
	assert.Equal(t, models.TaskDone, f.onlyTask(t, KindDeliverMessage).Status)

	sent := sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(42), sent[0].ChatID)
	assert.Equal(t, "hello", sent[0].Text)

	assert.Equal(t, 0, f.runOnce(t), "a done task is never claimed again")
}

func TestDeliver_RetriesWithBackoff(t *testing.T) {
	sender := &flakySender{failures: 2, err: errors.New("timeout")}
	f := newFixture(t, sender)
	ctx := context.Background()
	start := f.clock.Now()

	require.NoError(t, f.q.DeliverMessage(ctx, 42, "hello"))

	assert.Equal(t, 1, f.runOnce(t))
	task := f.onlyTask(t, KindDeliverMessage)
	assert.Equal(t, models.TaskPending, task.Status)
	assert.Equal(t, "timeout", task.LastError)
	assert.True(t, task.RunAt.Equal(start.Add(30*time.Second)))

	assert.Equal(t, 0, f.runOnce(t), "not due yet")

	f.clock.Add(30 * time.Second)
	assert.Equal(t, 1, f.runOnce(t))
	task = f.onlyTask(t, KindDeliverMessage)
	assert.True(t, task.RunAt.Equal(start.Add(90*time.Second)), "second retry waits twice as long")

	f.clock.Add(60 * time.Second)
	assert.Equal(t, 1, f.runOnce(t))
	task = f.onlyTask(t, KindDeliverMessage)
	assert.Equal(t, models.TaskDone, task.Status)
	assert.Equal(t, 3, task.Attempts)
	assert.Equal(t, []string{"42:hello"}, sender.sent)
}

func TestDeliver_ExhaustedRetriesDeactivateUser(t *testing.T) {
	sender := &flakySender{failures: -1, err: errors.New("timeout")}
	f := newFixture(t, sender)
	ctx := context.Background()

	tg := int64(42)
	uid := f.db.AddUser(&tg, true)
	require.NoError(t, f.q.DeliverMessage(ctx, tg, "hello"))

	for i := 0; i < 5; i++ {
		assert.Equal(t, 1, f.runOnce(t), "attempt %d", i+1)
		u, _ := f.db.User(uid)
		if i < 4 {
			assert.True(t, u.IsActive, "still retrying after attempt %d", i+1)
		}
		f.clock.Add(10 * time.Minute)
	}

	task := f.onlyTask(t, KindDeliverMessage)
	assert.Equal(t, models.TaskFailed, task.Status)
	assert.Equal(t, 5, task.Attempts)
	u, _ := f.db.User(uid)
	assert.False(t, u.IsActive)

	assert.Equal(t, 0, f.runOnce(t))
}

func TestDeliver_BlockedRecipientIsPermanent(t *testing.T) {
	sender := &flakySender{failures: -1, err: fmt.Errorf("send to 42: %w", delivery.ErrRecipientBlocked)}
	f := newFixture(t, sender)

	tg := int64(42)
	uid := f.db.AddUser(&tg, true)
	require.NoError(t, f.q.DeliverMessage(context.Background(), tg, "hello"))

	assert.Equal(t, 1, f.runOnce(t))
	task := f.onlyTask(t, KindDeliverMessage)
	assert.Equal(t, models.TaskFailed, task.Status)
	assert.Equal(t, 1, task.Attempts)

	u, _ := f.db.User(uid)
	assert.False(t, u.IsActive)
}

func TestDeliver_UnknownRecipientIsNotAnError(t *testing.T) {
	sender := &flakySender{failures: -1, err: delivery.ErrRecipientBlocked}
	f := newFixture(t, sender)

	require.NoError(t, f.q.DeliverMessage(context.Background(), 7, "hello"))
	assert.Equal(t, 1, f.runOnce(t))
	assert.Equal(t, models.TaskFailed, f.onlyTask(t, KindDeliverMessage).Status)
}

func TestUnknownKindFails(t *testing.T) {
	f := newFixture(t, stub.New())

	require.NoError(t, f.q.Enqueue(context.Background(), "mystery", map[string]int{"x": 1}))
	assert.Equal(t, 1, f.runOnce(t))

	task := f.onlyTask(t, "mystery")
	assert.Equal(t, models.TaskFailed, task.Status)
	assert.Contains(t, task.LastError, "no handler")
}

type fakeImporter struct {
	mu    sync.Mutex
	calls []ReconcileUnit
	err   error
}

func (i *fakeImporter) Import(_ context.Context, kind models.UnitKind, id int64) (ingest.Summary, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls = append(i.calls, ReconcileUnit{Kind: kind, ID: id})
	return ingest.Summary{Unit: models.UnitRef{Kind: kind, ID: id}}, i.err
}

func TestReconcileHandler(t *testing.T) {
	tests := map[string]struct {
		kind       models.UnitKind
		importErr  error
		wantStatus models.TaskStatus
		wantCalls  int
	}{
		"stage":        {kind: models.UnitStage, wantStatus: models.TaskDone, wantCalls: 1},
		"figure":       {kind: models.UnitFigure, wantStatus: models.TaskDone, wantCalls: 1},
		"bad kind":     {kind: "lap", wantStatus: models.TaskFailed},
		"import error": {kind: models.UnitStage, importErr: errors.New("db down"), wantStatus: models.TaskPending, wantCalls: 1},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, stub.New())
			imp := &fakeImporter{err: tc.importErr}
			f.q.Register(KindReconcileUnit, ReconcileHandler(imp))

			require.NoError(t, f.q.ReconcileUnit(context.Background(), tc.kind, 1001))
			assert.Equal(t, 1, f.runOnce(t))

			assert.Equal(t, tc.wantStatus, f.onlyTask(t, KindReconcileUnit).Status)
			require.Len(t, imp.calls, tc.wantCalls)
			if tc.wantCalls > 0 {
				assert.Equal(t, ReconcileUnit{Kind: tc.kind, ID: 1001}, imp.calls[0])
			}
		})
	}
}

func TestRun(t *testing.T) {
	sender := stub.New()
	db := storetest.New()
	q := New(db, clock.New(), noJitter())
	q.Register(KindDeliverMessage, NewDeliverHandler(sender, db))

	ctx, cancel := context.WithCancel(context.Background())
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, q.DeliverMessage(ctx, i, "hi"))
	}

	done := make(chan error, 1)
	go func() { done <- q.Run(ctx, 2, 10*time.Millisecond) }()

	require.Eventually(t, func() bool { return len(sender.Sent()) == 5 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	for _, task := range db.Tasks(KindDeliverMessage) {
		assert.Equal(t, models.TaskDone, task.Status)
	}
}

func TestRun_ReleasesUnsentClaimsOnShutdown(t *testing.T) {
	db := storetest.New()
	q := New(db, clock.New(), noJitter())

	started := make(chan struct{}, 1)
	unblock := make(chan struct{})
	q.Register("slow", HandlerFunc(func(context.Context, []byte) error {
		started <- struct{}{}
		<-unblock
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Enqueue(ctx, "slow", map[string]int{"n": 1}))
	require.NoError(t, q.Enqueue(ctx, "slow", map[string]int{"n": 2}))

	done := make(chan error, 1)
	go func() { done <- q.Run(ctx, 1, 10*time.Millisecond) }()

	<-started
	// the only worker is busy, so the second claim waits for a free worker
	require.Eventually(t, func() bool {
		running := 0
		for _, task := range db.Tasks("slow") {
			if task.Status == models.TaskRunning {
				running++
			}
		}
		return running == 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		for _, task := range db.Tasks("slow") {
			if task.Status == models.TaskPending {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	close(unblock)
	require.NoError(t, <-done)

	statuses := map[models.TaskStatus]int{}
	for _, task := range db.Tasks("slow") {
		statuses[task.Status]++
		if task.Status == models.TaskPending {
			assert.Zero(t, task.Attempts, "a released claim must not use up an attempt")
		}
	}
	assert.Equal(t, map[models.TaskStatus]int{models.TaskDone: 1, models.TaskPending: 1}, statuses)
}

func TestRun_RequeuesStaleTasks(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	db := storetest.New()
	db.Now = clk.Now
	q := New(db, clk, noJitter())
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "orphan", map[string]int{}))
	claimed, err := db.ClaimTasks(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// a fresh claim is left alone
	require.NoError(t, q.requeueStale(ctx))
	assert.Equal(t, models.TaskRunning, db.Tasks("orphan")[0].Status)

	clk.Add(staleAfter + time.Minute)
	require.NoError(t, q.requeueStale(ctx))
	assert.Equal(t, models.TaskPending, db.Tasks("orphan")[0].Status)
}

func TestRunNeedsWorkers(t *testing.T) {
	q := New(storetest.New(), clock.New(), DefaultPolicy())
	assert.Error(t, q.Run(context.Background(), 0, time.Second))
}
