// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package retention hard-deletes messages that have been soft-deleted for
// longer than the configured age, on a cron schedule.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"

	"github.com/efchatnet/efgroups/backend/metrics"
)

const DefaultCron = "0 3 * * *"

var ErrRunning = errors.New("retention run already in progress")

// Purger is the slice of the message store the sweep needs.
type Purger interface {
	PurgeDeleted(ctx context.Context, deletedBefore time.Time) (int64, error)
}

type Sweeper struct {
	store   Purger
	log     *slog.Logger
	metrics *metrics.Metrics
	cron    string
	maxAge  time.Duration
	now     func() time.Time
	running atomic.Bool
}

func NewSweeper(store Purger, log *slog.Logger, m *metrics.Metrics, cronExpr string, maxAge time.Duration) (*Sweeper, error) {
	if cronExpr == "" {
		cronExpr = DefaultCron
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid retention cron expression: %s", cronExpr)
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention max age must be positive, got %s", maxAge)
	}
	return &Sweeper{store: store, log: log, metrics: m, cron: cronExpr, maxAge: maxAge, now: time.Now}, nil
}

// RunOnce purges messages deleted before now minus the max age. A call
// made while another run is in progress returns ErrRunning.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	if !s.running.CompareAndSwap(false, true) {
		return 0, ErrRunning
	}
	defer s.running.Store(false)

	cutoff := s.now().UTC().Add(-s.maxAge)
	purged, err := s.store.PurgeDeleted(ctx, cutoff)
	if err != nil {
		return purged, fmt.Errorf("purging messages deleted before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	s.metrics.RetentionPurged.Add(float64(purged))
	s.log.Info("retention: Purged deleted messages", "count", purged, "cutoff", cutoff)
	return purged, nil
}

// Start runs the schedule until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	s.log.Info("retention: Scheduler started", "cron", s.cron, "max_age", s.maxAge)
	go s.loop(ctx)
}

func (s *Sweeper) loop(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(s.cron, s.now().UTC(), false)
		wait := time.Until(next)
		if err != nil {
			s.log.Error("retention: Failed to compute next tick", "cron", s.cron, "error", err)
			wait = 30 * time.Second
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("retention: Scheduler stopping")
			return
		case <-timer.C:
		}
		if err != nil {
			continue
		}

		go func() {
			if _, err := s.RunOnce(ctx); err != nil {
				if errors.Is(err, ErrRunning) {
					s.log.Warn("retention: Skipping tick, previous run still active")
					return
				}
				s.log.Error("retention: Run failed", "error", err)
			}
		}()
	}
}
