package notify

import (
	"fmt"
	"strings"

	"gymkhana-bot/internal/ingest"
	"gymkhana-bot/internal/models"
	"gymkhana-bot/internal/util"
)

// Compose renders the subscriber message for a result event. leaderMS is the
// best time in the unit after the pass, 0 when unknown.
func Compose(ev ingest.Event, emoji string, leaderMS int) string {
	var b strings.Builder

	if ev.Kind == ingest.EventImproved {
		b.WriteString("🚀 Улучшение результата!\n")
	} else {
		b.WriteString("🏁 Новый результат!\n")
	}

	class := string(ev.Athlete.SportsmanClass)
	if emoji != "" {
		class = emoji + " " + class
	}
	fmt.Fprintf(&b, "%s | %s\n", class, ev.Athlete.FullName())
	fmt.Fprintf(&b, "%s: %s\n", unitLabel(ev.Unit.Kind), unitTitle(ev.Unit))

	fmt.Fprintf(&b, "⏱ Время: %s", util.FormatMillis(ev.TimeMS))
	if ev.Fine > 0 {
		fmt.Fprintf(&b, " (штраф: %d)", ev.Fine)
	}
	b.WriteString("\n")

	if d := ev.DeltaMS(); d > 0 {
		fmt.Fprintf(&b, "📉 Быстрее на %s сек (было %s)\n", util.FormatDelta(d), util.FormatMillis(ev.PrevTimeMS))
	}
	if ev.Place != nil {
		fmt.Fprintf(&b, "🏆 Место: %d\n", *ev.Place)
	}

	switch {
	case leaderMS <= 0:
	case ev.TimeMS <= leaderMS:
		b.WriteString("🥇 Лучшее время\n")
	default:
		fmt.Fprintf(&b, "📊 %.2f%% от лидера\n", util.PercentOf(ev.TimeMS, leaderMS))
	}

	if ev.Motorcycle != "" {
		fmt.Fprintf(&b, "🏍 %s\n", ev.Motorcycle)
	}
	if ev.Video != "" {
		fmt.Fprintf(&b, "🎥 %s\n", ev.Video)
	}
	return strings.TrimRight(b.String(), "\n")
}

func unitLabel(k models.UnitKind) string {
	if k == models.UnitFigure {
		return "Базовая фигура"
	}
	return "Этап"
}

func unitTitle(u models.UnitRef) string {
	if u.Title != "" {
		return u.Title
	}
	return fmt.Sprintf("#%d", u.PublicID())
}
