package models

import "strings"

type SportsmanClass string

const (
	ClassNone SportsmanClass = ""
	ClassA    SportsmanClass = "A"
	ClassB    SportsmanClass = "B"
	ClassC1   SportsmanClass = "C1"
	ClassC2   SportsmanClass = "C2"
	ClassC3   SportsmanClass = "C3"
	ClassD1   SportsmanClass = "D1"
	ClassD2   SportsmanClass = "D2"
	ClassD3   SportsmanClass = "D3"
	ClassD4   SportsmanClass = "D4"
	ClassN    SportsmanClass = "N"
)

// Classes lists the subscribable classes in display order.
var Classes = []SportsmanClass{ClassA, ClassB, ClassC1, ClassC2, ClassC3, ClassD1, ClassD2, ClassD3, ClassD4, ClassN}

// ParseClass accepts a class label in any case. An empty label is ClassN,
// which is how the results site reports unclassified athletes.
func ParseClass(s string) (SportsmanClass, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ClassN, true
	}
	for _, c := range Classes {
		if string(c) == s {
			return c, true
		}
	}
	return ClassNone, false
}

var classCoefficients = map[SportsmanClass]float64{
	ClassA: 1.00, ClassB: 1.00,
	ClassC1: 1.05, ClassC2: 1.10, ClassC3: 1.15,
	ClassD1: 1.20, ClassD2: 1.30, ClassD3: 1.40, ClassD4: 1.50,
	ClassN: 1.50,
}

// Coefficient is the class handicap: how many times slower than the overall
// leader a rider of this class may be to keep up within the class.
func (c SportsmanClass) Coefficient() float64 {
	if k, ok := classCoefficients[c]; ok {
		return k
	}
	return 1.60
}

type StageStatus string

const (
	StatusUpcoming  StageStatus = "upcoming"
	StatusAccepting StageStatus = "accepting"
	StatusJudging   StageStatus = "judging"
	StatusCompleted StageStatus = "completed"
	StatusCanceled  StageStatus = "canceled"
)

func (s StageStatus) Valid() bool {
	switch s {
	case StatusUpcoming, StatusAccepting, StatusJudging, StatusCompleted, StatusCanceled:
		return true
	}
	return false
}

var statusLabels = map[StageStatus]string{
	StatusUpcoming:  "Предстоящий этап",
	StatusAccepting: "Приём результатов",
	StatusJudging:   "Подведение итогов",
	StatusCompleted: "Прошедший этап",
	StatusCanceled:  "Этап отменён",
}

func (s StageStatus) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// ParseStatus accepts a status code or its display label.
func ParseStatus(s string) (StageStatus, bool) {
	s = strings.TrimSpace(s)
	if st := StageStatus(strings.ToLower(s)); st.Valid() {
		return st, true
	}
	for st, l := range statusLabels {
		if l == s {
			return st, true
		}
	}
	return "", false
}

// Active stages still receive results.
func (s StageStatus) Active() bool {
	return s == StatusAccepting || s == StatusJudging
}

type CompetitionType string

const (
	CompetitionGGP        CompetitionType = "ggp"
	CompetitionBaseFigure CompetitionType = "base_figure"
)

type UnitKind string

const (
	UnitStage  UnitKind = "stage"
	UnitFigure UnitKind = "figure"
)

func ParseUnitKind(s string) (UnitKind, bool) {
	switch UnitKind(s) {
	case UnitStage, UnitFigure:
		return UnitKind(s), true
	}
	return "", false
}

// Source is where a subscription profile or a report came from.
type Source string

const (
	SourceTelegram Source = "telegram"
	SourceSite     Source = "site"
	SourceAdmin    Source = "admin"
)

func (s Source) Valid() bool {
	return s == SourceTelegram || s == SourceSite || s == SourceAdmin
}

type ReportType string

const (
	ReportBug     ReportType = "bug"
	ReportFeature ReportType = "feature"
)

func (t ReportType) Valid() bool {
	return t == ReportBug || t == ReportFeature
}
