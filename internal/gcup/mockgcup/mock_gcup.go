package mockgcup

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gymkhana-bot/internal/gcup"
)

type Client struct {
	mock.Mock
}

var _ gcup.Client = (*Client)(nil)

func (c *Client) Championships(ctx context.Context, champType string, fromYear, toYear int) ([]gcup.Championship, error) {
	args := c.Called(ctx, champType, fromYear, toYear)

	var res []gcup.Championship
	if args.Get(0) != nil {
		res = args.Get(0).([]gcup.Championship)
	}
	return res, args.Error(1)
}

func (c *Client) Championship(ctx context.Context, id int64, champType string) (*gcup.ChampionshipDetail, error) {
	args := c.Called(ctx, id, champType)

	var res *gcup.ChampionshipDetail
	if args.Get(0) != nil {
		res = args.Get(0).(*gcup.ChampionshipDetail)
	}
	return res, args.Error(1)
}

func (c *Client) Stage(ctx context.Context, id int64, champType string) (*gcup.StagePayload, error) {
	args := c.Called(ctx, id, champType)

	var res *gcup.StagePayload
	if args.Get(0) != nil {
		res = args.Get(0).(*gcup.StagePayload)
	}
	return res, args.Error(1)
}

func (c *Client) BaseFigure(ctx context.Context, id int64) (*gcup.FigurePayload, error) {
	args := c.Called(ctx, id)

	var res *gcup.FigurePayload
	if args.Get(0) != nil {
		res = args.Get(0).(*gcup.FigurePayload)
	}
	return res, args.Error(1)
}

func (c *Client) Athlete(ctx context.Context, id int64) (*gcup.AthletePayload, error) {
	args := c.Called(ctx, id)

	var res *gcup.AthletePayload
	if args.Get(0) != nil {
		res = args.Get(0).(*gcup.AthletePayload)
	}
	return res, args.Error(1)
}
