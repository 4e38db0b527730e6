package timedoctor

import (
	"testing"
	"time"
)

func TestCalculateBackoff_RetryAfterWins(t *testing.T) {
	cfg := DefaultRetryConfig()

	got := CalculateBackoff(cfg, 0, 2*time.Second)
	if got != 2500*time.Millisecond {
		t.Errorf("expected Retry-After plus padding, got %v", got)
	}

	// server hint beats any attempt-based growth
	if got := CalculateBackoff(cfg, 5, time.Second); got != 1500*time.Millisecond {
		t.Errorf("expected Retry-After honored on late attempts, got %v", got)
	}
}

func TestCalculateBackoff_ExponentialGrowth(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:     5,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         false,
	}

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for attempt, want := range expected {
		if got := CalculateBackoff(cfg, attempt, 0); got != want {
			t.Errorf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
}

func TestCalculateBackoff_CappedAtMax(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		Jitter:         false,
	}

	if got := CalculateBackoff(cfg, 20, 0); got != 10*time.Second {
		t.Errorf("expected backoff capped at %v, got %v", cfg.MaxBackoff, got)
	}
}

func TestCalculateBackoff_JitterBounded(t *testing.T) {
	cfg := DefaultRetryConfig()

	for attempt := 0; attempt < 5; attempt++ {
		base := CalculateBackoff(RetryConfig{
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
			Multiplier:     cfg.Multiplier,
			Jitter:         false,
		}, attempt, 0)

		got := CalculateBackoff(cfg, attempt, 0)
		if got < base || got > base+base/4 {
			t.Errorf("attempt %d: jittered backoff %v outside [%v, %v]", attempt, got, base, base+base/4)
		}
	}
}
