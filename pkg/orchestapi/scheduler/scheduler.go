/*
Copyright 2024 The Orchest Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package scheduler is the Recurring Scheduler (RS): a background wheel
// every replica runs, cooperating through the state store's row lock so
// exactly one replica executes a given tick (§4.5).
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	v1 "github.com/orchest/orchest-api/pkg/orchestapi/apis/v1"
	"github.com/orchest/orchest-api/pkg/orchestapi/metrics"
	"github.com/orchest/orchest-api/pkg/orchestapi/store"
)

// epsilon is the small positive constant (0.1 minute) subtracted from a
// job's interval before comparing against "now", so a tick up to 6s
// early still fires (§4.5).
const epsilon = 6 * time.Second

// RegisteredJob is one wheel entry: a recurring handler fired at most
// once per Interval across any number of replicas.
type RegisteredJob struct {
	Type     v1.SchedulerJobType
	Interval time.Duration
	Handler  func(ctx context.Context) error
}

// Wheel runs every RegisteredJob's tick check on a fixed cadence.
type Wheel struct {
	store        *store.Store
	logger       *zap.Logger
	jobs         []RegisteredJob
	tickInterval time.Duration
}

// New returns a Wheel that checks every registered job once per
// tickInterval (independent of each job's own Interval; the row-lock
// check decides whether a given tick actually fires a handler).
func New(st *store.Store, logger *zap.Logger, tickInterval time.Duration, jobs ...RegisteredJob) *Wheel {
	return &Wheel{store: st, logger: logger, jobs: jobs, tickInterval: tickInterval}
}

// Run blocks, ticking until ctx is canceled.
func (w *Wheel) Run(ctx context.Context) {
	ticker := time.NewTicker(w.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.tick(ctx, now.UTC())
		}
	}
}

func (w *Wheel) tick(ctx context.Context, now time.Time) {
	for _, job := range w.jobs {
		fire, err := w.claim(ctx, job, now)
		if err != nil {
			w.logger.Error("scheduler: claim failed", zap.String("type", string(job.Type)), zap.Error(err))
			continue
		}
		if !fire {
			metrics.SchedulerTicks.WithLabelValues(string(job.Type), "skipped").Inc()
			continue
		}
		metrics.SchedulerTicks.WithLabelValues(string(job.Type), "fired").Inc()
		if err := job.Handler(ctx); err != nil {
			w.logger.Error("scheduler: handler failed", zap.String("type", string(job.Type)), zap.Error(err))
		}
	}
}

// claim implements the §4.5 transaction phase: lock the row, compare
// now against timestamp + (interval - epsilon), and if due, advance the
// timestamp before releasing the lock. The boolean result is this tick's
// collateral decision ("run_collateral" in the spec's terms).
func (w *Wheel) claim(ctx context.Context, job RegisteredJob, now time.Time) (bool, error) {
	var fire bool
	err := w.store.WithTx(ctx, func(tx *store.Tx) error {
		row, err := w.store.SchedulerJobs.GetForUpdate(ctx, tx, job.Type)
		if err != nil {
			return err
		}
		threshold := job.Interval - epsilon
		if threshold < 0 {
			threshold = 0
		}
		if now.Sub(row.Timestamp) < threshold {
			fire = false
			return nil
		}
		fire = true
		return w.store.SchedulerJobs.SetTimestamp(ctx, tx, job.Type, now)
	})
	return fire, err
}
