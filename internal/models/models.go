package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcome tells a find-or-create caller which branch was taken.
type Outcome int

const (
	Found Outcome = iota
	Created
)

func (o Outcome) String() string {
	if o == Created {
		return "created"
	}
	return "found"
}

type Country struct {
	ID    int64
	Title string
}

type City struct {
	ID        int64
	Title     string
	CountryID int64
}

type Athlete struct {
	ID             int64 // external id on the results site
	FirstName      string
	LastName       string
	CityID         int64
	SportsmanClass SportsmanClass
	ImgURL         string
	Number         *int
}

func (a Athlete) FullName() string {
	return a.FirstName + " " + a.LastName
}

type Motorcycle struct {
	ID    int64
	Title string
}

type Championship struct {
	ID          int64
	ChampID     int64
	Title       string
	Year        int
	Description string
	ChampType   string
}

type Stage struct {
	ID             int64
	StageID        int64 // external id
	ChampionshipID *int64
	Status         StageStatus
	Title          string
	StageClass     SportsmanClass
	TrackURL       string
	DateStart      *time.Time
	DateEnd        *time.Time
}

type BaseFigure struct {
	ID          int64 // external id
	Title       string
	Description string
	Track       string
	WithInClass bool
}

// UnitRef identifies a competition unit: a stage (by local row id) or a base
// figure (by its external id, which is also its primary key). ExternalID is
// the results site id when known.
type UnitRef struct {
	Kind       UnitKind
	ID         int64
	ExternalID int64
	Title      string
}

// PublicID is the id the results site and the HTTP API use.
func (u UnitRef) PublicID() int64 {
	if u.ExternalID != 0 {
		return u.ExternalID
	}
	return u.ID
}

func (u UnitRef) String() string {
	return fmt.Sprintf("%s %d", u.Kind, u.PublicID())
}

// CompetitionType is implied by the unit kind.
func (u UnitRef) CompetitionType() CompetitionType {
	if u.Kind == UnitFigure {
		return CompetitionBaseFigure
	}
	return CompetitionGGP
}

// Result is the current best attempt of one athlete in one unit. Place is only
// kept for stage results.
type Result struct {
	ID           int64
	Unit         UnitRef
	AthleteID    int64
	MotorcycleID int64
	Date         *time.Time
	Place        *int
	Fine         int
	TimeMS       int
	TimeText     string
	Video        string
}

// LeaderboardRow is a result joined with athlete and motorcycle for display.
type LeaderboardRow struct {
	Place          *int
	AthleteID      int64
	AthleteName    string
	SportsmanClass SportsmanClass
	Motorcycle     string
	TimeMS         int
	TimeText       string
	Fine           int
	Video          string
}

type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	IsActive  bool
}

type TelegramProfile struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

type UserSubscription struct {
	ID        int64
	UserID    int64
	IsActive  bool
	Source    Source
	CreatedAt time.Time
}

type Subscription struct {
	UserSubscriptionID int64
	CompetitionType    CompetitionType
	SportsmanClass     SportsmanClass
}

// Subscriber is a notification recipient resolved for fanout.
type Subscriber struct {
	UserID     int64
	TelegramID *int64
	IsActive   bool
}

type ClassInfo struct {
	Name        SportsmanClass
	Description string
	Emoji       string
}

type Report struct {
	ID        int64
	UserID    *int64
	Text      string
	Source    Source
	Type      ReportType
	Resolved  bool
	CreatedAt time.Time
}

type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)

// Task is a unit of deferred work. Attempts counts claims, so a task on its
// first run has Attempts == 1.
type Task struct {
	ID          uuid.UUID
	Kind        string
	Payload     []byte
	Status      TaskStatus
	Attempts    int
	MaxAttempts int
	RunAt       time.Time
	LastError   string
}
