// Package mockstore holds testify mocks for the narrow store interfaces the
// services depend on.
package mockstore

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gymkhana-bot/internal/models"
)

type Store struct {
	mock.Mock
}

func (s *Store) CreateReport(ctx context.Context, r *models.Report) error {
	args := s.Called(ctx, r)
	return args.Error(0)
}

func (s *Store) DeactivateTelegramUser(ctx context.Context, telegramID int64) error {
	args := s.Called(ctx, telegramID)
	return args.Error(0)
}

func (s *Store) ActiveStages(ctx context.Context) ([]models.Stage, error) {
	args := s.Called(ctx)

	var res []models.Stage
	if args.Get(0) != nil {
		res = args.Get(0).([]models.Stage)
	}
	return res, args.Error(1)
}

func (s *Store) BaseFigureIDs(ctx context.Context) ([]int64, error) {
	args := s.Called(ctx)

	var res []int64
	if args.Get(0) != nil {
		res = args.Get(0).([]int64)
	}
	return res, args.Error(1)
}

func (s *Store) Leaderboard(ctx context.Context, unit models.UnitRef) ([]models.LeaderboardRow, error) {
	args := s.Called(ctx, unit)

	var res []models.LeaderboardRow
	if args.Get(0) != nil {
		res = args.Get(0).([]models.LeaderboardRow)
	}
	return res, args.Error(1)
}
