// Package reports validates and stores bug reports and feature ideas sent by
// users, and tells the admins about them.
package reports

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"gymkhana-bot/internal/models"
)

const MinTextLength = 10

const (
	msgSaved  = "✅ Отчет успешно сохранен!"
	msgFailed = "❌ Ошибка: "
)

// ValidationError lists every problem found in a report.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, " | ")
}

type Input struct {
	UserID *int64
	Text   string
	Source models.Source
	Type   models.ReportType
}

// Validate checks all fields and reports every violation at once.
func Validate(in Input) error {
	var problems []string
	if in.UserID == nil {
		problems = append(problems, "Не указан пользователь")
	}
	if utf8.RuneCountInString(strings.TrimSpace(in.Text)) < MinTextLength {
		problems = append(problems, fmt.Sprintf("Текст слишком короткий (минимум %d символов)", MinTextLength))
	}
	if !in.Source.Valid() {
		problems = append(problems, "Некорректный источник")
	}
	if !in.Type.Valid() {
		problems = append(problems, "Некорректный тип отчета")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

type Store interface {
	CreateReport(ctx context.Context, r *models.Report) error
}

type Enqueuer interface {
	DeliverMessage(ctx context.Context, telegramID int64, text string) error
}

type Service struct {
	db     Store
	out    Enqueuer
	admins []int64
}

// NewService builds the report service. out may be nil, then admins are not
// notified.
func NewService(db Store, out Enqueuer, admins []int64) *Service {
	return &Service{db: db, out: out, admins: admins}
}

// Submit validates and saves a report. The returned message is ready to be
// shown to the user.
func (s *Service) Submit(ctx context.Context, in Input) (bool, string) {
	rep, err := s.Create(ctx, in)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return false, msgFailed + verr.Error()
		}
		log.Printf("reports: save failed: %v", err)
		return false, msgFailed + "не удалось сохранить отчет"
	}

	s.notifyAdmins(ctx, rep)
	return true, msgSaved
}

// Create validates and stores a report without notifying anyone.
func (s *Service) Create(ctx context.Context, in Input) (*models.Report, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}

	rep := &models.Report{
		UserID: in.UserID,
		Text:   strings.TrimSpace(in.Text),
		Source: in.Source,
		Type:   in.Type,
	}
	if err := s.db.CreateReport(ctx, rep); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}
	log.Printf("reports: %s report %d saved from %s", rep.Type, rep.ID, rep.Source)
	return rep, nil
}

func (s *Service) notifyAdmins(ctx context.Context, rep *models.Report) {
	if s.out == nil || len(s.admins) == 0 {
		return
	}

	title := "🐞 Новый баг-репорт"
	if rep.Type == models.ReportFeature {
		title = "💡 Новая идея"
	}
	text := fmt.Sprintf("%s #%d (%s, пользователь %d):\n%s", title, rep.ID, rep.Source, *rep.UserID, rep.Text)

	for _, id := range s.admins {
		if err := s.out.DeliverMessage(ctx, id, text); err != nil {
			log.Printf("reports: notify admin %d: %v", id, err)
		}
	}
}
