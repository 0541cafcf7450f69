package tgbot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/itbasis/go-clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gymkhana-bot/internal/store/storetest"
)

func TestMemorySessions(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	s := NewMemorySessions(clk, time.Hour)

	st, err := s.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StateMainMenu, st)

	require.NoError(t, s.Save(ctx, 1, StateBugReportWait))
	require.NoError(t, s.Save(ctx, 2, StateClassSelection))

	clk.Add(30 * time.Minute)
	st, err = s.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StateBugReportWait, st)

	require.NoError(t, s.Save(ctx, 2, StateClassSelection))
	clk.Add(45 * time.Minute)

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err = s.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StateMainMenu, st)
	st, err = s.Load(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, StateClassSelection, st)
}

func TestMemorySessions_NoTTL(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	s := NewMemorySessions(clk, 0)

	require.NoError(t, s.Save(ctx, 1, StateFeatureReportWait))
	clk.Add(24 * 365 * time.Hour)

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	st, err := s.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StateFeatureReportWait, st)
}

func TestDBSessions(t *testing.T) {
	ctx := context.Background()
	db := storetest.New()
	s := NewDBSessions(db, clock.NewMock(), time.Hour)

	st, err := s.Load(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, StateMainMenu, st)

	require.NoError(t, s.Save(ctx, 7, StateBaseClassSelection))
	st, err = s.Load(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, StateBaseClassSelection, st)

	require.NoError(t, db.SaveSession(ctx, 8, "LEGACY_STATE"))
	st, err = s.Load(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, StateMainMenu, st)

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNewSessionStore(t *testing.T) {
	tests := map[string]struct {
		kind    string
		want    any
		wantErr bool
	}{
		"default":  {kind: "", want: &MemorySessions{}},
		"memory":   {kind: "memory", want: &MemorySessions{}},
		"postgres": {kind: "postgres", want: &DBSessions{}},
		"unknown":  {kind: "redis", wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s, err := NewSessionStore(tc.kind, storetest.New(), clock.New(), time.Hour)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tc.want, s)
		})
	}
}

func TestChatLocks(t *testing.T) {
	var l chatLocks

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(1)
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, l.locks)

	// other chats do not wait
	unlock := l.Lock(1)
	done := make(chan struct{})
	go func() {
		l.Lock(2)()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("chat 2 waited for chat 1")
	}
	unlock()
}
