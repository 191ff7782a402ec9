// Package reaper runs the background cleanup of idle sessions and abandoned
// conversations.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// SessionCloser is the live session registry.
type SessionCloser interface {
	Idle(timeout time.Duration, now time.Time) []string
	Close(id string) bool
}

// ConversationPruner deletes conversations nobody joined.
type ConversationPruner interface {
	DeleteAbandonedConversations(ctx context.Context, ttl time.Duration) (int64, error)
}

// StartIdleReaper runs a background goroutine that closes sessions idle for
// longer than idle. Closing a session runs its normal termination.
func StartIdleReaper(ctx context.Context, sessions SessionCloser, idle, interval time.Duration) {
	if idle <= 0 {
		slog.Info("Idle session reaper disabled")
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Idle session reaper started", "interval", interval, "idle_timeout", idle)

		for {
			select {
			case now := <-ticker.C:
				ReapIdle(sessions, idle, now)
			case <-ctx.Done():
				slog.Info("Idle session reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// ReapIdle closes every session idle since now-idle and returns how many
// were closed.
func ReapIdle(sessions SessionCloser, idle time.Duration, now time.Time) int {
	ids := sessions.Idle(idle, now)
	if len(ids) == 0 {
		return 0
	}

	slog.Info("Reaper found idle sessions", "count", len(ids))
	closed := 0
	for _, id := range ids {
		if sessions.Close(id) {
			closed++
		}
	}
	return closed
}

// StartAbandonedCleanup schedules PruneAbandoned on schedule until ctx is
// done. It fails only if schedule does not parse.
func StartAbandonedCleanup(ctx context.Context, repo ConversationPruner, ttl time.Duration, schedule string) error {
	if ttl <= 0 {
		slog.Info("Abandoned conversation cleanup disabled")
		return nil
	}
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("parse cleanup schedule %q: %w", schedule, err)
	}

	c := cron.New(cron.WithParser(cronParser))
	c.Schedule(sched, cron.FuncJob(func() {
		PruneAbandoned(ctx, repo, ttl)
	}))
	c.Start()
	slog.Info("Abandoned conversation cleanup scheduled", "schedule", schedule, "ttl", ttl, "next", sched.Next(time.Now()))

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		slog.Info("Abandoned conversation cleanup stopped", "reason", ctx.Err())
	}()
	return nil
}

// PruneAbandoned deletes conversations older than ttl that never got a
// participant message.
func PruneAbandoned(ctx context.Context, repo ConversationPruner, ttl time.Duration) int64 {
	deleted, err := repo.DeleteAbandonedConversations(ctx, ttl)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Abandoned conversation cleanup interrupted", "error", err)
			return 0
		}
		slog.Error("Failed to delete abandoned conversations", "error", err)
		return 0
	}
	if deleted > 0 {
		slog.Info("Deleted abandoned conversations", "count", deleted)
	}
	return deleted
}
