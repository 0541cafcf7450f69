package sheets

import (
	"context"
	"fmt"
	"os"
	"sync"

	"google.golang.org/api/option"
	sheetsv4 "google.golang.org/api/sheets/v4"
)

// Client is a thin wrapper over the Sheets values API for one spreadsheet.
type Client struct {
	srv           *sheetsv4.Service
	spreadsheetID string

	mu     sync.Mutex
	titles map[string]bool
}

// New authenticates with a service account key file.
func New(ctx context.Context, serviceAccountJSONPath, spreadsheetID string) (*Client, error) {
	if _, err := os.Stat(serviceAccountJSONPath); err != nil {
		return nil, fmt.Errorf("service account json: %w", err)
	}
	return NewWithOptions(ctx, spreadsheetID,
		option.WithCredentialsFile(serviceAccountJSONPath),
		option.WithScopes(sheetsv4.SpreadsheetsScope),
	)
}

func NewWithOptions(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*Client, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is empty")
	}
	srv, err := sheetsv4.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{srv: srv, spreadsheetID: spreadsheetID}, nil
}

func (c *Client) SpreadsheetID() string { return c.spreadsheetID }

// ensureSheet adds the sheet when the spreadsheet has no sheet by that title.
func (c *Client) ensureSheet(ctx context.Context, title string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.titles == nil {
		ss, err := c.srv.Spreadsheets.Get(c.spreadsheetID).
			Fields("sheets.properties.title").
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("list sheets: %w", err)
		}
		c.titles = map[string]bool{}
		for _, sh := range ss.Sheets {
			if sh.Properties != nil {
				c.titles[sh.Properties.Title] = true
			}
		}
	}
	if c.titles[title] {
		return nil
	}

	req := &sheetsv4.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsv4.Request{{
			AddSheet: &sheetsv4.AddSheetRequest{
				Properties: &sheetsv4.SheetProperties{Title: title},
			},
		}},
	}
	if _, err := c.srv.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", title, err)
	}
	c.titles[title] = true
	return nil
}

func (c *Client) clear(ctx context.Context, sheet string) error {
	_, err := c.srv.Spreadsheets.Values.Clear(c.spreadsheetID, sheet+"!A:Z", &sheetsv4.ClearValuesRequest{}).
		Context(ctx).
		Do()
	return err
}

func (c *Client) update(ctx context.Context, sheet string, rows [][]interface{}) error {
	vr := &sheetsv4.ValueRange{Values: rows}
	_, err := c.srv.Spreadsheets.Values.Update(c.spreadsheetID, sheet+"!A1", vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}
