package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gymkhana-bot/internal/config"
)

func TestPolicy(t *testing.T) {
	p := Policy(config.Config{TaskMaxRetries: 2, TaskRetryDelay: time.Second, TaskRetryMaxDelay: 3 * time.Second})
	assert.Equal(t, 3, p.MaxAttempts())
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 3*time.Second, p.Backoff(3))

	def := Policy(config.Config{TaskMaxRetries: 4})
	assert.Equal(t, 30*time.Second, def.BaseDelay)
	assert.Equal(t, 600*time.Second, def.MaxDelay)
}
