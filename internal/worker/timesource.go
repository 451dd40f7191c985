package worker

import (
	"fmt"
	"time"

	"github.com/beevik/ntp"
)

// TimeStampLayout is the human-readable stamp the console renders; the
// rig compares these across devices, so every source uses it.
const TimeStampLayout = "2006-01-02 15:04:05"

// TimeSource produces the stamp reported in TIME_RESPONSE payloads.
type TimeSource interface {
	Now() (string, error)
}

// SystemTime reports the local clock.
type SystemTime struct{}

func (SystemTime) Now() (string, error) {
	return time.Now().Format(TimeStampLayout), nil
}

// NTPTime reports offset-corrected time from a configured NTP server,
// so clock drift on the device itself stays visible in the comparison.
type NTPTime struct {
	Server  string
	Timeout time.Duration
}

func (s NTPTime) Now() (string, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	resp, err := ntp.QueryWithOptions(s.Server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return "", fmt.Errorf("ntp query %s: %w", s.Server, err)
	}
	if err := resp.Validate(); err != nil {
		return "", fmt.Errorf("ntp response %s: %w", s.Server, err)
	}
	return time.Now().Add(resp.ClockOffset).Format(TimeStampLayout), nil
}
