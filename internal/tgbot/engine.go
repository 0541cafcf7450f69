package tgbot

import (
	"context"
	"log"
	"strings"
	"unicode"

	"gymkhana-bot/internal/models"
	"gymkhana-bot/internal/reports"
)

type State string

const (
	StateMainMenu           State = "MAIN_MENU"
	StateClassSelection     State = "CLASS_SELECTION"
	StateBaseClassSelection State = "BASE_CLASS_SELECTION"
	StateBugReportWait      State = "BUG_REPORT_WAIT"
	StateFeatureReportWait  State = "FEATURE_REPORT_WAIT"
)

func (s State) Valid() bool {
	switch s {
	case StateMainMenu, StateClassSelection, StateBaseClassSelection, StateBugReportWait, StateFeatureReportWait:
		return true
	}
	return false
}

// Update is one inbound text message.
type Update struct {
	ChatID    int64
	UserID    int64
	Username  string
	FirstName string
	LastName  string
	Text      string
}

// Reply is one outbound message. A non-empty PhotoURL sends a photo with Text
// as caption. Keyboard replaces the reply keyboard when set.
type Reply struct {
	Text     string
	PhotoURL string
	Keyboard [][]string
}

// Turn is what a handler sees of the current message.
type Turn struct {
	Update  Update
	User    *models.User
	Created bool
	State   State
	// Args holds the text after a command, trimmed.
	Args string
}

func (t *Turn) Name() string {
	if t.Update.FirstName != "" {
		return t.Update.FirstName
	}
	if t.User != nil && t.User.FirstName != "" {
		return t.User.FirstName
	}
	if t.User != nil {
		return t.User.Username
	}
	return t.Update.Username
}

type Result struct {
	Replies []Reply
	Next    State
}

type Handler interface {
	Handle(ctx context.Context, t *Turn) (Result, error)
}

type HandlerFunc func(ctx context.Context, t *Turn) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, t *Turn) (Result, error) {
	return f(ctx, t)
}

type Store interface {
	EnsureTelegramUser(ctx context.Context, p models.TelegramProfile) (*models.User, models.Outcome, error)
	ToggleSubscription(ctx context.Context, userID int64, ct models.CompetitionType, class models.SportsmanClass) (bool, error)
	SubscribedClasses(ctx context.Context, userID int64, ct models.CompetitionType) ([]models.SportsmanClass, error)
	ClassInfos(ctx context.Context) ([]models.ClassInfo, error)
	ActiveStages(ctx context.Context) ([]models.Stage, error)
	Leaderboard(ctx context.Context, unit models.UnitRef) ([]models.LeaderboardRow, error)
}

type ReportSubmitter interface {
	Submit(ctx context.Context, in reports.Input) (bool, string)
}

type routeKey struct {
	state State
	label string
}

// Engine maps (state, text) to a handler. It knows nothing about the
// Telegram wire format.
type Engine struct {
	db           Store
	reports      ReportSubmitter
	sessions     SessionStore
	adminContact string

	commands  map[string]Handler
	routes    map[routeKey]Handler
	fallbacks map[State]Handler
}

func NewEngine(db Store, rep ReportSubmitter, sessions SessionStore, adminContact string) *Engine {
	e := &Engine{
		db:           db,
		reports:      rep,
		sessions:     sessions,
		adminContact: adminContact,
		commands:     map[string]Handler{},
		routes:       map[routeKey]Handler{},
		fallbacks:    map[State]Handler{},
	}
	e.register()
	return e
}

func (e *Engine) register() {
	ggp := &subscriptionHandler{db: e.db, ct: models.CompetitionGGP, state: StateClassSelection}
	figures := &subscriptionHandler{db: e.db, ct: models.CompetitionBaseFigure, state: StateBaseClassSelection}
	bug := &reportHandler{e: e, typ: models.ReportBug, wait: StateBugReportWait, prompt: "Опишите пожалуйста проблему в одном сообщении:"}
	feature := &reportHandler{e: e, typ: models.ReportFeature, wait: StateFeatureReportWait, prompt: "Опишите вашу идею в одном сообщении:"}
	menu := HandlerFunc(e.mainMenu)

	e.commands["start"] = HandlerFunc(e.start)
	e.commands["menu"] = menu
	e.commands["bug_report"] = HandlerFunc(bug.command)
	e.commands["feature"] = HandlerFunc(feature.command)

	e.routes[routeKey{StateMainMenu, btnGGPSubscriptions}] = HandlerFunc(ggp.open)
	e.routes[routeKey{StateMainMenu, btnFigureSubscriptions}] = HandlerFunc(figures.open)
	e.routes[routeKey{StateMainMenu, btnSendTrack}] = &trackHandler{db: e.db}
	e.routes[routeKey{StateMainMenu, btnStageLeader}] = &leaderHandler{db: e.db}
	e.routes[routeKey{StateMainMenu, btnBugReport}] = HandlerFunc(bug.prompted)
	e.routes[routeKey{StateMainMenu, btnFeature}] = HandlerFunc(feature.prompted)

	for _, st := range []State{StateClassSelection, StateBaseClassSelection, StateBugReportWait, StateFeatureReportWait} {
		e.routes[routeKey{st, btnBack}] = menu
	}

	e.fallbacks[StateMainMenu] = HandlerFunc(e.unrecognized)
	e.fallbacks[StateClassSelection] = HandlerFunc(ggp.toggle)
	e.fallbacks[StateBaseClassSelection] = HandlerFunc(figures.toggle)
	e.fallbacks[StateBugReportWait] = HandlerFunc(bug.submit)
	e.fallbacks[StateFeatureReportWait] = HandlerFunc(feature.submit)
}

// Handle runs one turn for a chat. Turns of the same chat never overlap.
// The result always holds at least one reply.
func (e *Engine) Handle(ctx context.Context, upd Update) []Reply {
	unlock := e.sessions.Lock(upd.ChatID)
	defer unlock()

	state, err := e.sessions.Load(ctx, upd.ChatID)
	if err != nil {
		log.Printf("tgbot: load session %d: %v", upd.ChatID, err)
		state = StateMainMenu
	}

	res, err := e.turn(ctx, upd, state)
	if err != nil {
		log.Printf("tgbot: chat %d in %s, text %q: %v", upd.ChatID, state, upd.Text, err)
		res = Result{
			Replies: []Reply{{Text: "😔 Что-то пошло не так. Попробуйте ещё раз позже.", Keyboard: mainKeyboard()}},
			Next:    StateMainMenu,
		}
	}
	if !res.Next.Valid() {
		res.Next = StateMainMenu
	}
	if len(res.Replies) == 0 {
		res.Replies = []Reply{{Text: "Выберите действие:", Keyboard: mainKeyboard()}}
	}

	if err := e.sessions.Save(ctx, upd.ChatID, res.Next); err != nil {
		log.Printf("tgbot: save session %d: %v", upd.ChatID, err)
	}
	return res.Replies
}

func (e *Engine) turn(ctx context.Context, upd Update, state State) (Result, error) {
	user, outcome, err := e.db.EnsureTelegramUser(ctx, models.TelegramProfile{
		ID:        upd.UserID,
		Username:  upd.Username,
		FirstName: upd.FirstName,
		LastName:  upd.LastName,
	})
	if err != nil {
		return Result{}, err
	}
	if outcome == models.Created {
		log.Printf("tgbot: new user %s for telegram id %d", user.Username, upd.UserID)
	}

	t := &Turn{Update: upd, User: user, Created: outcome == models.Created, State: state}
	text := strings.TrimSpace(upd.Text)

	if cmd, args, ok := parseCommand(text); ok {
		t.Args = args
		if h, ok := e.commands[cmd]; ok {
			return h.Handle(ctx, t)
		}
		return e.unrecognized(ctx, t)
	}
	if h, ok := e.routes[routeKey{state, text}]; ok {
		return h.Handle(ctx, t)
	}
	if h, ok := e.fallbacks[state]; ok {
		return h.Handle(ctx, t)
	}
	return e.unrecognized(ctx, t)
}

// parseCommand splits "/cmd@bot args" into its parts.
func parseCommand(text string) (cmd, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest := text[1:], ""
	if i := strings.IndexFunc(head, unicode.IsSpace); i >= 0 {
		head, rest = head[:i], head[i:]
	}
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}
