package models

import "testing"

func TestParseClass(t *testing.T) {
	tests := map[string]struct {
		in     string
		want   SportsmanClass
		wantOK bool
	}{
		"upper":   {in: "C1", want: ClassC1, wantOK: true},
		"lower":   {in: "d4", want: ClassD4, wantOK: true},
		"spaces":  {in: "  B ", want: ClassB, wantOK: true},
		"empty":   {in: "", want: ClassN, wantOK: true},
		"unknown": {in: "E", want: ClassNone, wantOK: false},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, ok := ParseClass(tc.in)
			if got != tc.want || ok != tc.wantOK {
				t.Errorf("ParseClass(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestStageStatusActive(t *testing.T) {
	for _, s := range []StageStatus{StatusAccepting, StatusJudging} {
		if !s.Active() {
			t.Errorf("%s should be active", s)
		}
	}
	for _, s := range []StageStatus{StatusUpcoming, StatusCompleted, StatusCanceled} {
		if s.Active() {
			t.Errorf("%s should not be active", s)
		}
	}
	if StageStatus("done").Valid() {
		t.Errorf("unexpected valid status")
	}
}

func TestUnitCompetitionType(t *testing.T) {
	if got := (UnitRef{Kind: UnitStage}).CompetitionType(); got != CompetitionGGP {
		t.Errorf("stage maps to %s", got)
	}
	if got := (UnitRef{Kind: UnitFigure}).CompetitionType(); got != CompetitionBaseFigure {
		t.Errorf("figure maps to %s", got)
	}
}

func TestParseStatus(t *testing.T) {
	tests := map[string]struct {
		in     string
		want   StageStatus
		wantOK bool
	}{
		"code":    {in: "judging", want: StatusJudging, wantOK: true},
		"upper":   {in: "ACCEPTING", want: StatusAccepting, wantOK: true},
		"label":   {in: "Приём результатов", want: StatusAccepting, wantOK: true},
		"unknown": {in: "soon", wantOK: false},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, ok := ParseStatus(tc.in)
			if got != tc.want || ok != tc.wantOK {
				t.Errorf("ParseStatus(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestClassCoefficient(t *testing.T) {
	tests := map[string]struct {
		class SportsmanClass
		want  float64
	}{
		"top":          {class: ClassA, want: 1.00},
		"middle":       {class: ClassC2, want: 1.10},
		"beginner":     {class: ClassD4, want: 1.50},
		"unclassified": {class: ClassN, want: 1.50},
		"none":         {class: ClassNone, want: 1.60},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := tc.class.Coefficient(); got != tc.want {
				t.Errorf("%q.Coefficient() = %v; want %v", tc.class, got, tc.want)
			}
		})
	}
}
