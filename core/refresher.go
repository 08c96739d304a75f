package core

import (
	"context"
	"log/slog"
	"time"

	"accountd/errutil"
)

// Refresher periodically refreshes the accounts of a list that the
// refresh policy selects. Accounts are refreshed one at a time.
type Refresher struct {
	list     *AccountList
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewRefresher(list *AccountList, interval time.Duration, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		list:     list,
		interval: interval,
		logger:   logger.With("component", "refresher"),
		now:      time.Now,
	}
}

// Run refreshes due accounts immediately and then every interval until
// ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.RefreshDue(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.RefreshDue(ctx)
		}
	}
}

// RefreshDue refreshes every account whose policy says so and returns how
// many refresh tasks it ran. A task some other caller started is waited
// for but not counted.
func (r *Refresher) RefreshDue(ctx context.Context) int {
	ran := 0
	for _, a := range r.list.All() {
		if ctx.Err() != nil {
			break
		}
		if !a.ShouldRefresh(r.now()) {
			continue
		}

		t, err := a.Refresh()
		if err != nil {
			errutil.LogError(r.logger, "refresh not started", err, "account_id", a.ID())
			continue
		}
		if t.State() == TaskCreated {
			if t.Action() != ActionRefresh {
				// A login waiting for its caller to start it.
				continue
			}
			if err := t.Start(ctx); err == nil {
				ran++
			}
		}

		if err := t.Wait(ctx); err != nil {
			errutil.LogError(r.logger, "account refresh failed", err, "account_id", a.ID())
			continue
		}
		r.logger.Debug("account refreshed", "account_id", a.ID(), "task_id", t.ID().String())
	}
	return ran
}
