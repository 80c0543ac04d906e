package ratelimit

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIsRetryableStatus(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{200, false},
		{301, false},
		{400, false},
		{403, false},
		{404, false},
		{429, true},
		{499, false},
		{500, true},
		{502, true},
		{503, true},
		{599, true},
		{600, false},
	}

	for _, tt := range tests {
		if got := IsRetryableStatus(tt.status); got != tt.want {
			t.Errorf("IsRetryableStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestCalculateBackoff(t *testing.T) {
	config := Config{InitialBackoffMs: 100, MaxBackoffMs: 1000}

	// Jitter adds up to 25%, so assert the window per attempt.
	tests := []struct {
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{0, 100 * time.Millisecond, 125 * time.Millisecond},
		{1, 200 * time.Millisecond, 250 * time.Millisecond},
		{2, 400 * time.Millisecond, 500 * time.Millisecond},
		// Capped at MaxBackoffMs before jitter.
		{5, 1000 * time.Millisecond, 1250 * time.Millisecond},
		{20, 1000 * time.Millisecond, 1250 * time.Millisecond},
	}

	for _, tt := range tests {
		got := CalculateBackoff(tt.attempt, config)
		if got < tt.min || got > tt.max {
			t.Errorf("CalculateBackoff(%d) = %v, want in [%v, %v]", tt.attempt, got, tt.min, tt.max)
		}
	}
}

func TestCalculateRateLimitBackoffHeaderWins(t *testing.T) {
	config := Config{InitialBackoffMs: 100, MaxBackoffMs: 1000}

	got := CalculateRateLimitBackoff(0, config, "7")
	if got < 7*time.Second || got > 8*time.Second {
		t.Errorf("CalculateRateLimitBackoff with Retry-After 7 = %v, want in [7s, 8s]", got)
	}
}

func TestCalculateRateLimitBackoffIgnoresBadHeader(t *testing.T) {
	config := Config{InitialBackoffMs: 100, MaxBackoffMs: 100000}

	for _, header := range []string{"", "soon", "-3", "0"} {
		got := CalculateRateLimitBackoff(1, config, header)
		// 3x schedule: attempt 1 is 300ms plus jitter.
		if got < 300*time.Millisecond || got > 375*time.Millisecond {
			t.Errorf("CalculateRateLimitBackoff(1, %q) = %v, want in [300ms, 375ms]", header, got)
		}
	}
}

func TestFetchRetryError(t *testing.T) {
	underlying := errors.New("connection refused")
	err := &FetchRetryError{
		URL:       "https://example.org/item.jpg",
		Attempts:  4,
		LastError: underlying,
	}

	if !strings.Contains(err.Error(), "after 4 attempts") {
		t.Errorf("Error() = %q, want attempt count", err.Error())
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Error() = %q, want underlying error", err.Error())
	}
	if !errors.Is(err, underlying) {
		t.Error("errors.Is should unwrap to the underlying error")
	}

	withStatus := &FetchRetryError{URL: "https://example.org/x", Attempts: 2, LastStatus: 503}
	if !strings.Contains(withStatus.Error(), "HTTP 503") {
		t.Errorf("Error() = %q, want last status", withStatus.Error())
	}
}
