package util

import (
	"fmt"
	"time"
)

func NowISO() string {
	return time.Now().Format(time.RFC3339)
}

// UnixTime converts the results site's unix seconds, where 0 means unknown.
func UnixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// FormatMillis renders a lap time as MM:SS.mmm.
func FormatMillis(ms int) string {
	if ms < 0 {
		ms = 0
	}
	minutes := ms / 60000
	seconds := (ms / 1000) % 60
	return fmt.Sprintf("%02d:%02d.%03d", minutes, seconds, ms%1000)
}

// FormatDelta renders a time difference in seconds with millisecond precision.
func FormatDelta(ms int) string {
	return fmt.Sprintf("%.3f", float64(ms)/1000)
}

// PercentOf returns ms as a percentage of the leader's time, 100 for the leader.
func PercentOf(ms, leaderMS int) float64 {
	if leaderMS <= 0 {
		return 0
	}
	return float64(ms) / float64(leaderMS) * 100
}
