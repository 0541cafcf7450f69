package tgbot

import (
	"strings"

	"gymkhana-bot/internal/models"
)

// Button labels. Routing matches them exactly.
const (
	btnGGPSubscriptions    = "🏁 Подписки GGP"
	btnFigureSubscriptions = "🔄 Подписки на базовые фигуры"
	btnSendTrack           = "🗺️ Выслать карту GGP"
	btnStageLeader         = "🥇 Лидер этапа"
	btnBugReport           = "🐞 Сообщить об ошибке"
	btnFeature             = "💡 Предложить идею"
	btnBack                = "⬅️ Назад"

	subscribedMark = "✅"
)

func mainKeyboard() [][]string {
	return [][]string{
		{btnGGPSubscriptions, btnFigureSubscriptions},
		{btnSendTrack, btnStageLeader},
		{btnBugReport, btnFeature},
	}
}

func backKeyboard() [][]string {
	return [][]string{{btnBack}}
}

// classRows groups the classes the way riders think about them.
var classRows = [][]models.SportsmanClass{
	{models.ClassA, models.ClassB},
	{models.ClassC1, models.ClassC2, models.ClassC3},
	{models.ClassD1, models.ClassD2, models.ClassD3, models.ClassD4},
	{models.ClassN},
}

func classLabel(c models.SportsmanClass, emoji string, subscribed bool) string {
	label := string(c)
	if emoji != "" {
		label = emoji + " " + label
	}
	if subscribed {
		label = subscribedMark + " " + label
	}
	return label
}

func classKeyboard(emoji map[models.SportsmanClass]string, subscribed map[models.SportsmanClass]bool) [][]string {
	rows := make([][]string, 0, len(classRows)+1)
	for _, r := range classRows {
		row := make([]string, 0, len(r))
		for _, c := range r {
			row = append(row, classLabel(c, emoji[c], subscribed[c]))
		}
		rows = append(rows, row)
	}
	return append(rows, []string{btnBack})
}

// parseClassLabel reads a class back from a keyboard label. Marks and emoji
// come before the class name, so the last word decides.
func parseClassLabel(text string) (models.SportsmanClass, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return models.ClassNone, false
	}
	return models.ParseClass(fields[len(fields)-1])
}
