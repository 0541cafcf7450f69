package tgbot

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/itbasis/go-clock"
)

// SessionStore keeps the conversation state of each chat. Lock serialises
// the turns of one chat; different chats never wait on each other.
type SessionStore interface {
	Lock(chatID int64) (unlock func())
	Load(ctx context.Context, chatID int64) (State, error)
	Save(ctx context.Context, chatID int64, state State) error
	// Sweep forgets sessions idle for longer than the store's TTL.
	Sweep(ctx context.Context) (int, error)
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

// chatLocks hands out one mutex per chat and drops it once nobody holds or
// waits for it.
type chatLocks struct {
	mu    sync.Mutex
	locks map[int64]*chatLock
}

func (l *chatLocks) Lock(chatID int64) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = map[int64]*chatLock{}
	}
	cl := l.locks[chatID]
	if cl == nil {
		cl = &chatLock{}
		l.locks[chatID] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()
	return func() {
		cl.mu.Unlock()
		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.locks, chatID)
		}
		l.mu.Unlock()
	}
}

type memorySession struct {
	state   State
	touched time.Time
}

// MemorySessions keeps state in process memory. It is lost on restart.
type MemorySessions struct {
	chatLocks
	clock clock.Clock
	ttl   time.Duration

	mu       sync.Mutex
	sessions map[int64]memorySession
}

func NewMemorySessions(clk clock.Clock, ttl time.Duration) *MemorySessions {
	return &MemorySessions{clock: clk, ttl: ttl, sessions: map[int64]memorySession{}}
}

func (s *MemorySessions) Load(_ context.Context, chatID int64) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[chatID]
	if !ok {
		return StateMainMenu, nil
	}
	if s.expired(sess) {
		delete(s.sessions, chatID)
		return StateMainMenu, nil
	}
	return sess.state, nil
}

func (s *MemorySessions) Save(_ context.Context, chatID int64, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[chatID] = memorySession{state: state, touched: s.clock.Now()}
	return nil
}

func (s *MemorySessions) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if s.expired(sess) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *MemorySessions) expired(sess memorySession) bool {
	return s.ttl > 0 && s.clock.Since(sess.touched) > s.ttl
}

type SessionBackend interface {
	LoadSession(ctx context.Context, chatID int64) (string, bool, error)
	SaveSession(ctx context.Context, chatID int64, state string) error
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DBSessions keeps state in the database so that conversations survive a
// restart. Per-chat locking is still process local.
type DBSessions struct {
	chatLocks
	db    SessionBackend
	clock clock.Clock
	ttl   time.Duration
}

func NewDBSessions(db SessionBackend, clk clock.Clock, ttl time.Duration) *DBSessions {
	return &DBSessions{db: db, clock: clk, ttl: ttl}
}

func (s *DBSessions) Load(ctx context.Context, chatID int64) (State, error) {
	raw, found, err := s.db.LoadSession(ctx, chatID)
	if err != nil {
		return StateMainMenu, err
	}
	if !found {
		return StateMainMenu, nil
	}
	st := State(raw)
	if !st.Valid() {
		log.Printf("tgbot: warning: chat %d has unknown state %q, reset", chatID, raw)
		return StateMainMenu, nil
	}
	return st, nil
}

func (s *DBSessions) Save(ctx context.Context, chatID int64, state State) error {
	return s.db.SaveSession(ctx, chatID, string(state))
}

func (s *DBSessions) Sweep(ctx context.Context) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	n, err := s.db.DeleteSessionsBefore(ctx, s.clock.Now().Add(-s.ttl))
	return int(n), err
}

// NewSessionStore picks the session backend by name.
func NewSessionStore(kind string, db SessionBackend, clk clock.Clock, ttl time.Duration) (SessionStore, error) {
	switch kind {
	case "memory", "":
		return NewMemorySessions(clk, ttl), nil
	case "postgres":
		return NewDBSessions(db, clk, ttl), nil
	default:
		return nil, fmt.Errorf("unknown session store: %s", kind)
	}
}
