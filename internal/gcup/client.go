package gcup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrUnavailable marks fetch failures: transport errors, timeouts, non-200
// responses, invalid JSON and empty objects. Callers treat it as "no data
// this pass", which is different from a payload that has no results.
var ErrUnavailable = errors.New("results api unavailable")

type Client interface {
	Championships(ctx context.Context, champType string, fromYear, toYear int) ([]Championship, error)
	Championship(ctx context.Context, id int64, champType string) (*ChampionshipDetail, error)
	Stage(ctx context.Context, id int64, champType string) (*StagePayload, error)
	BaseFigure(ctx context.Context, id int64) (*FigurePayload, error)
	Athlete(ctx context.Context, id int64) (*AthletePayload, error)
}

type client struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL, apiKey string, timeout time.Duration) (Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("results api url is empty")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &client{
		url:    baseURL,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	return c, nil
}

func (c *client) Championships(ctx context.Context, champType string, fromYear, toYear int) ([]Championship, error) {
	params := url.Values{}
	params.Set("types", champType)
	if fromYear > 0 {
		params.Set("fromYear", strconv.Itoa(fromYear))
	}
	if toYear > 0 {
		params.Set("toYear", strconv.Itoa(toYear))
	}

	var out []Championship
	if err := c.get(ctx, "/championships/list", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) Championship(ctx context.Context, id int64, champType string) (*ChampionshipDetail, error) {
	params := url.Values{}
	params.Set("id", strconv.FormatInt(id, 10))
	params.Set("type", champType)

	var out ChampionshipDetail
	if err := c.get(ctx, "/championships/get", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) Stage(ctx context.Context, id int64, champType string) (*StagePayload, error) {
	params := url.Values{}
	params.Set("id", strconv.FormatInt(id, 10))
	params.Set("type", champType)

	var out StagePayload
	if err := c.get(ctx, "/stages/get", params, &out); err != nil {
		return nil, err
	}
	if out.ID == 0 {
		return nil, fmt.Errorf("stage %d: empty payload: %w", id, ErrUnavailable)
	}
	return &out, nil
}

func (c *client) BaseFigure(ctx context.Context, id int64) (*FigurePayload, error) {
	params := url.Values{}
	params.Set("id", strconv.FormatInt(id, 10))

	var out FigurePayload
	if err := c.get(ctx, "/baseFigures/get", params, &out); err != nil {
		return nil, err
	}
	if out.ID == 0 {
		return nil, fmt.Errorf("base figure %d: empty payload: %w", id, ErrUnavailable)
	}
	return &out, nil
}

func (c *client) Athlete(ctx context.Context, id int64) (*AthletePayload, error) {
	params := url.Values{}
	params.Set("id", strconv.FormatInt(id, 10))

	var out AthletePayload
	if err := c.get(ctx, "/users/get", params, &out); err != nil {
		return nil, err
	}
	if out.ID == 0 {
		return nil, fmt.Errorf("athlete %d: empty payload: %w", id, ErrUnavailable)
	}
	return &out, nil
}

func (c *client) get(ctx context.Context, path string, params url.Values, out any) error {
	params.Set("signature", c.apiKey)
	endpoint := c.url + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("error creating http request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %v: %w", path, err, ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status code %d: %w", path, resp.StatusCode, ErrUnavailable)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		log.Printf("gcup: warning: malformed response from %s: %v", path, err)
		return fmt.Errorf("GET %s: decode: %v: %w", path, err, ErrUnavailable)
	}
	return nil
}
