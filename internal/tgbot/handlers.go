package tgbot

import (
	"context"
	"fmt"
	"strings"

	"gymkhana-bot/internal/models"
	"gymkhana-bot/internal/reports"
	"gymkhana-bot/internal/util"
)

const welcomeText = `Радушно приветствую! Бот помогает следить за результатами спортсменов.
Управление устроено через меню кнопок внизу экрана. Там можно выбрать, о каких результатах присылать уведомления: GGP и базовые фигуры. Выберите класс, и бот будет сообщать о всех новых и улучшенных результатах этого класса.
Нашли баг? Пришлите команду /bug_report. Есть идея, как сделать бота лучше? Пришлите команду /feature.`

func (e *Engine) start(_ context.Context, t *Turn) (Result, error) {
	if t.Created {
		return Result{
			Replies: []Reply{
				{Text: fmt.Sprintf("Добро пожаловать, %s!", t.Name()), Keyboard: mainKeyboard()},
				{Text: welcomeText},
			},
			Next: StateMainMenu,
		}, nil
	}
	return Result{
		Replies: []Reply{{Text: fmt.Sprintf("Вы уже зарегестрированы, %s!", t.Name()), Keyboard: mainKeyboard()}},
		Next:    StateMainMenu,
	}, nil
}

func (e *Engine) mainMenu(_ context.Context, _ *Turn) (Result, error) {
	return Result{
		Replies: []Reply{{Text: "Главное меню", Keyboard: mainKeyboard()}},
		Next:    StateMainMenu,
	}, nil
}

func (e *Engine) unrecognized(_ context.Context, t *Turn) (Result, error) {
	text := fmt.Sprintf("Привет, %s! Выберите действие:(кнопка подписки внизу)", t.Name())
	if t.Created {
		text = "🔐 Вы зарегистрированы!"
	}
	return Result{
		Replies: []Reply{{Text: text, Keyboard: mainKeyboard()}},
		Next:    StateMainMenu,
	}, nil
}

type subscriptionHandler struct {
	db    Store
	ct    models.CompetitionType
	state State
}

func (h *subscriptionHandler) title() string {
	if h.ct == models.CompetitionBaseFigure {
		return "Выберите класс спортсмена для базовых фигур:"
	}
	return "Выберите класс спортсмена:"
}

func (h *subscriptionHandler) keyboard(ctx context.Context, userID int64) ([][]string, error) {
	infos, err := h.db.ClassInfos(ctx)
	if err != nil {
		return nil, err
	}
	emoji := make(map[models.SportsmanClass]string, len(infos))
	for _, ci := range infos {
		emoji[ci.Name] = ci.Emoji
	}

	classes, err := h.db.SubscribedClasses(ctx, userID, h.ct)
	if err != nil {
		return nil, err
	}
	subscribed := make(map[models.SportsmanClass]bool, len(classes))
	for _, c := range classes {
		subscribed[c] = true
	}
	return classKeyboard(emoji, subscribed), nil
}

func (h *subscriptionHandler) open(ctx context.Context, t *Turn) (Result, error) {
	kb, err := h.keyboard(ctx, t.User.ID)
	if err != nil {
		return Result{}, err
	}
	return Result{Replies: []Reply{{Text: h.title(), Keyboard: kb}}, Next: h.state}, nil
}

func (h *subscriptionHandler) toggle(ctx context.Context, t *Turn) (Result, error) {
	class, ok := parseClassLabel(t.Update.Text)
	if !ok {
		kb, err := h.keyboard(ctx, t.User.ID)
		if err != nil {
			return Result{}, err
		}
		return Result{
			Replies: []Reply{{Text: "Не удалось распознать класс. Выберите класс кнопкой ниже.", Keyboard: kb}},
			Next:    h.state,
		}, nil
	}

	subscribed, err := h.db.ToggleSubscription(ctx, t.User.ID, h.ct, class)
	if err != nil {
		return Result{}, fmt.Errorf("toggle %s/%s: %w", h.ct, class, err)
	}
	kb, err := h.keyboard(ctx, t.User.ID)
	if err != nil {
		return Result{}, err
	}

	text := fmt.Sprintf("✅ Вы успешно подписались на класс: %s!\nТеперь вы будете получать уведомления о соревнованиях.", class)
	if !subscribed {
		text = fmt.Sprintf("❌ Вы успешно отписались от класса: %s!\nТеперь вы НЕ будете получать уведомления о соревнованиях.", class)
	}
	return Result{Replies: []Reply{{Text: text, Keyboard: kb}}, Next: h.state}, nil
}

type reportHandler struct {
	e      *Engine
	typ    models.ReportType
	wait   State
	prompt string
}

func (h *reportHandler) prompted(_ context.Context, _ *Turn) (Result, error) {
	return Result{
		Replies: []Reply{{Text: h.prompt, Keyboard: backKeyboard()}},
		Next:    h.wait,
	}, nil
}

// command handles /bug_report and /feature. Text after the command is the
// report itself; without it the user is asked for one.
func (h *reportHandler) command(ctx context.Context, t *Turn) (Result, error) {
	if t.Args == "" {
		return h.prompted(ctx, t)
	}
	ok, msg := h.send(ctx, t, t.Args)
	if !ok {
		msg += h.e.contactLine()
	}
	return Result{Replies: []Reply{{Text: msg, Keyboard: mainKeyboard()}}, Next: StateMainMenu}, nil
}

// submit takes the whole message as the report. A rejected report keeps the
// chat waiting for another try.
func (h *reportHandler) submit(ctx context.Context, t *Turn) (Result, error) {
	ok, msg := h.send(ctx, t, t.Update.Text)
	if ok {
		return Result{Replies: []Reply{{Text: msg, Keyboard: mainKeyboard()}}, Next: StateMainMenu}, nil
	}
	return Result{
		Replies: []Reply{{Text: msg + h.e.contactLine() + "\n\n" + h.prompt, Keyboard: backKeyboard()}},
		Next:    h.wait,
	}, nil
}

func (h *reportHandler) send(ctx context.Context, t *Turn, text string) (bool, string) {
	userID := t.User.ID
	return h.e.reports.Submit(ctx, reports.Input{
		UserID: &userID,
		Text:   text,
		Source: models.SourceTelegram,
		Type:   h.typ,
	})
}

func (e *Engine) contactLine() string {
	if e.adminContact == "" {
		return ""
	}
	return "\nСвяжитесь с администратором: " + e.adminContact
}

type trackHandler struct {
	db Store
}

func (h *trackHandler) Handle(ctx context.Context, _ *Turn) (Result, error) {
	stages, err := h.db.ActiveStages(ctx)
	if err != nil {
		return Result{}, err
	}

	for _, st := range stages {
		if st.Status != models.StatusAccepting {
			continue
		}
		if st.TrackURL == "" {
			return Result{
				Replies: []Reply{{Text: fmt.Sprintf("Для этапа '%s' карта трассы пока не опубликована.", st.Title)}},
				Next:    StateMainMenu,
			}, nil
		}
		return Result{
			Replies: []Reply{{Text: fmt.Sprintf("Трасса для этапа '%s':\n%s", st.Title, st.TrackURL), PhotoURL: st.TrackURL}},
			Next:    StateMainMenu,
		}, nil
	}
	return Result{
		Replies: []Reply{{Text: "На данный момент нет соревнований в стадии 'Приём результатов'."}},
		Next:    StateMainMenu,
	}, nil
}

type leaderHandler struct {
	db Store
}

func (h *leaderHandler) Handle(ctx context.Context, _ *Turn) (Result, error) {
	stages, err := h.db.ActiveStages(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(stages) == 0 {
		return Result{Replies: []Reply{{Text: "Сейчас нет активных этапов."}}, Next: StateMainMenu}, nil
	}

	st := stages[0]
	rows, err := h.db.Leaderboard(ctx, models.UnitRef{Kind: models.UnitStage, ID: st.ID, ExternalID: st.StageID, Title: st.Title})
	if err != nil {
		return Result{}, err
	}
	if len(rows) == 0 {
		return Result{
			Replies: []Reply{{Text: fmt.Sprintf("На этапе '%s' пока нет результатов.", st.Title)}},
			Next:    StateMainMenu,
		}, nil
	}
	return Result{Replies: []Reply{{Text: leaderText(st, rows[0])}}, Next: StateMainMenu}, nil
}

// leaderText shows the stage leader and, per class, the time that matches
// the leader once the class coefficient is applied.
func leaderText(st models.Stage, leader models.LeaderboardRow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🥇 Лидер этапа '%s' (%s):\n", st.Title, st.Status.Label())
	fmt.Fprintf(&b, "%s (%s), %s", leader.AthleteName, leader.SportsmanClass, util.FormatMillis(leader.TimeMS))
	if leader.Motorcycle != "" {
		fmt.Fprintf(&b, ", 🏍 %s", leader.Motorcycle)
	}
	b.WriteString("\n\n⚖️ Ориентиры по классам:\n")

	base := float64(leader.TimeMS) / leader.SportsmanClass.Coefficient()
	for _, row := range classRows {
		parts := make([]string, 0, len(row))
		for _, c := range row {
			parts = append(parts, fmt.Sprintf("%s %s", c, util.FormatMillis(int(base*c.Coefficient()+0.5))))
		}
		b.WriteString(strings.Join(parts, " · "))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
