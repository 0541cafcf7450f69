package ingest

import (
	"fmt"

	"gymkhana-bot/internal/models"
)

type EventKind int

const (
	EventNew EventKind = iota
	EventImproved
)

func (k EventKind) String() string {
	if k == EventImproved {
		return "improved_result"
	}
	return "new_result"
}

// Event describes a committed result change that subscribers should hear
// about.
type Event struct {
	Kind       EventKind
	Unit       models.UnitRef
	Athlete    models.Athlete
	Motorcycle string
	TimeMS     int
	TimeText   string
	Fine       int
	Place      *int
	Video      string
	PrevTimeMS int
}

// DeltaMS is how much faster the improved attempt is.
func (e Event) DeltaMS() int {
	if e.Kind != EventImproved {
		return 0
	}
	return e.PrevTimeMS - e.TimeMS
}

// Summary holds the counters of one reconciliation pass.
type Summary struct {
	Unit        models.UnitRef
	New         int
	Improved    int
	NoChange    int
	Skipped     int
	Conflicts   int
	Unavailable bool
}

// Counters returns the three-way summary reported to operators.
func (s Summary) Counters() map[string]int {
	return map[string]int{
		"new_result":      s.New,
		"improved_result": s.Improved,
		"no_change":       s.NoChange,
	}
}

func (s Summary) Changed() bool {
	return s.New+s.Improved > 0
}

func (s *Summary) Add(o Summary) {
	s.New += o.New
	s.Improved += o.Improved
	s.NoChange += o.NoChange
	s.Skipped += o.Skipped
	s.Conflicts += o.Conflicts
}

func (s Summary) String() string {
	if s.Unavailable {
		return fmt.Sprintf("%s: unavailable, skipped", s.Unit)
	}
	return fmt.Sprintf("%s: new_result=%d improved_result=%d no_change=%d skipped=%d conflict=%d",
		s.Unit, s.New, s.Improved, s.NoChange, s.Skipped, s.Conflicts)
}

// Pass is the outcome of reconciling one unit. Events are only meaningful
// once the pass has committed.
type Pass struct {
	Summary Summary
	Events  []Event
}
