// Package prune expires stale conversation history on a cron schedule.
package prune

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chatrelay/chatrelay/internal/conversation"
)

// Sweeper periodically deletes conversation records older than the
// configured TTL.
type Sweeper struct {
	log      *slog.Logger
	registry conversation.Registry
	ttl      time.Duration
	schedule string
	cron     *cron.Cron
}

func NewSweeper(log *slog.Logger, registry conversation.Registry, ttl time.Duration, schedule string) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		log:      log.With(slog.String("component", "prune")),
		registry: registry,
		ttl:      ttl,
		schedule: schedule,
	}
}

// Start registers the sweep job and begins the schedule. A zero TTL
// disables sweeping entirely.
func (s *Sweeper) Start() error {
	if s.ttl <= 0 {
		s.log.Info("context sweeping disabled")
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.sweep); err != nil {
		return err
	}
	s.cron = c
	c.Start()
	s.log.Info("context sweeper started", slog.String("schedule", s.schedule), slog.Duration("ttl", s.ttl))
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-s.ttl)
	removed, err := s.registry.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Error("sweep conversation history", slog.Any("error", err))
		return
	}
	if removed > 0 {
		s.log.Info("expired conversation records", slog.Int64("removed", removed))
	}
}
