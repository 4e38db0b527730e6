package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"worktime-monitor/internal/timedoctor"
)

// Sweeper periodically walks the full user collection and resolves every
// identity, keeping the resolution cache warm and surfacing upstream drift
// in the logs.
type Sweeper struct {
	client   *timedoctor.Client
	resolver *timedoctor.Resolver
	breaker  *Breaker
	logger   *slog.Logger
	interval time.Duration
	limiter  *rate.Limiter

	stopOnce sync.Once
	stopChan chan struct{}
}

func NewSweeper(logger *slog.Logger, client *timedoctor.Client, resolver *timedoctor.Resolver, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		client:   client,
		resolver: resolver,
		breaker:  NewBreaker(),
		logger:   logger,
		interval: interval,
		// pace per-subject resolution so a large company does not burst
		limiter:  rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		stopChan: make(chan struct{}),
	}
}

// Start blocks, running one sweep immediately and then one per interval,
// until Stop is called.
func (s *Sweeper) Start() {
	s.logger.Info("sweep_started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runCycle()

	for {
		select {
		case <-ticker.C:
			s.runCycle()
		case <-s.stopChan:
			s.logger.Info("sweep_stopped")
			return
		}
	}
}

func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *Sweeper) runCycle() {
	if !s.breaker.Allow() {
		s.logger.Warn("sweep_skipped", "breaker_state", s.breaker.StateString())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := s.sweep(ctx); err != nil {
		s.breaker.RecordFailure()
		s.logger.Error("sweep_failed", "error", err, "breaker_state", s.breaker.StateString())
		return
	}
	s.breaker.RecordSuccess()
}

func (s *Sweeper) sweep(ctx context.Context) error {
	started := time.Now()

	col, err := s.client.FetchAll(ctx, "/api/1.0/users", nil)
	if err != nil {
		return err
	}
	if !col.Complete {
		s.logger.Warn("sweep_user_list_truncated", "pages", col.Pages, "items", col.Len())
	}

	counts := map[timedoctor.Confidence]int{}
	resolved := 0
	for _, item := range col.Items {
		var user timedoctor.User
		if err := json.Unmarshal(item, &user); err != nil || user.ID == "" {
			continue
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		res := s.resolver.Resolve(ctx, string(user.ID), &user)
		counts[res.Confidence]++
		if res.Success {
			resolved++
		}

		s.logger.Debug("identity_resolved",
			"subject_id", res.SubjectID,
			"name", res.Name,
			"method", res.Method,
			"confidence", res.Confidence,
		)
	}

	s.logger.Info("sweep_completed",
		"subjects", col.Len(),
		"resolved", resolved,
		"high", counts[timedoctor.ConfidenceHigh],
		"medium", counts[timedoctor.ConfidenceMedium],
		"low", counts[timedoctor.ConfidenceLow],
		"very_low", counts[timedoctor.ConfidenceVeryLow],
		"duration", time.Since(started),
	)
	return nil
}
