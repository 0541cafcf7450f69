package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	TelegramToken string

	DatabaseURL string

	GCupURL       string
	GCupAPIKey    string
	GCupTimeout   time.Duration
	GCupChampType string

	AdminTGIDs   map[int64]bool
	AdminContact string

	HTTPAddr       string
	AdminJWTSecret string

	DeliveryProvider string

	SessionStore string
	SessionTTL   time.Duration

	WorkerCount       int
	QueuePollInterval time.Duration
	TaskMaxRetries    int
	TaskRetryDelay    time.Duration
	TaskRetryMaxDelay time.Duration

	RefreshInterval time.Duration

	SpreadsheetID            string
	GoogleServiceAccountJSON string
}

// FromEnv reads the configuration shared by the bot and the import commands.
// The Telegram token is only checked by RequireTelegram so that the batch
// commands can run without it.
func FromEnv() (Config, error) {
	var c Config
	c.TelegramToken = env("TELEGRAM_BOT_TOKEN")
	c.DatabaseURL = env("DATABASE_URL")
	c.GCupURL = strings.TrimRight(env("G_CUP_URL"), "/")
	c.GCupAPIKey = env("G_CUP_API_KEY")
	c.GCupChampType = env("G_CUP_CHAMP_TYPE")
	if c.GCupChampType == "" {
		c.GCupChampType = "gp"
	}

	c.AdminContact = env("ADMIN_CONTACT")
	if c.AdminContact == "" {
		c.AdminContact = "@SoftikMy"
	}

	c.HTTPAddr = env("HTTP_ADDR")
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	c.AdminJWTSecret = env("ADMIN_JWT_SECRET")

	c.DeliveryProvider = env("DELIVERY_PROVIDER")
	if c.DeliveryProvider == "" {
		c.DeliveryProvider = "telegram"
	}
	c.SessionStore = env("SESSION_STORE")
	if c.SessionStore == "" {
		c.SessionStore = "memory"
	}

	c.SpreadsheetID = env("GOOGLE_SHEETS_SPREADSHEET_ID")
	c.GoogleServiceAccountJSON = env("GOOGLE_SERVICE_ACCOUNT_JSON")

	var err error
	if c.GCupTimeout, err = durationEnv("G_CUP_TIMEOUT", 15*time.Second); err != nil {
		return c, err
	}
	if c.SessionTTL, err = durationEnv("SESSION_TTL", 24*time.Hour); err != nil {
		return c, err
	}
	if c.QueuePollInterval, err = durationEnv("QUEUE_POLL_INTERVAL", 2*time.Second); err != nil {
		return c, err
	}
	if c.TaskRetryDelay, err = durationEnv("TASK_RETRY_DELAY", 30*time.Second); err != nil {
		return c, err
	}
	if c.TaskRetryMaxDelay, err = durationEnv("TASK_RETRY_MAX_DELAY", 600*time.Second); err != nil {
		return c, err
	}
	if c.RefreshInterval, err = durationEnv("REFRESH_INTERVAL", 10*time.Minute); err != nil {
		return c, err
	}
	if c.WorkerCount, err = intEnv("WORKER_COUNT", 4); err != nil {
		return c, err
	}
	if c.TaskMaxRetries, err = intEnv("TASK_MAX_RETRIES", 4); err != nil {
		return c, err
	}

	if c.DatabaseURL == "" {
		return c, fmt.Errorf("DATABASE_URL is empty")
	}
	if c.GCupURL == "" {
		return c, fmt.Errorf("G_CUP_URL is empty")
	}
	if c.GCupAPIKey == "" {
		return c, fmt.Errorf("G_CUP_API_KEY is empty")
	}
	if c.WorkerCount <= 0 {
		return c, fmt.Errorf("WORKER_COUNT must be positive")
	}
	if c.SpreadsheetID != "" && c.GoogleServiceAccountJSON == "" {
		return c, fmt.Errorf("GOOGLE_SERVICE_ACCOUNT_JSON is empty")
	}

	c.AdminTGIDs = parseAdminIDs(os.Getenv("ADMIN_TG_IDS"))

	return c, nil
}

// RequireTelegram reports whether the bot can start.
func (c Config) RequireTelegram() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is empty")
	}
	return nil
}

func (c Config) AdminIDs() []int64 {
	ids := make([]int64, 0, len(c.AdminTGIDs))
	for id := range c.AdminTGIDs {
		ids = append(ids, id)
	}
	return ids
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := env(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	raw := env(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func parseAdminIDs(raw string) map[int64]bool {
	m := map[int64]bool{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return m
	}
	parts := strings.Split(raw, ",")
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			continue
		}
		m[v] = true
	}
	return m
}
