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

package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/orchest/orchest-api/pkg/orchestapi/controllers"
)

// JobPoller periodically asks the JobController to claim and instantiate
// every due job's runs. The claiming itself (list candidates, lock and
// re-check each one, instantiate its runs, advance its schedule — all
// inside one transaction per job) lives in
// controllers.JobController.ClaimDueRuns; JobPoller only owns the tick
// cadence, the same split Wheel keeps between its own ticking and each
// RegisteredJob's handler.
type JobPoller struct {
	jobs   *controllers.JobController
	logger *zap.Logger
}

// NewJobPoller returns a JobPoller.
func NewJobPoller(jobs *controllers.JobController, logger *zap.Logger) *JobPoller {
	return &JobPoller{jobs: jobs, logger: logger}
}

// Run blocks, polling every interval until ctx is canceled.
func (p *JobPoller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.jobs.ClaimDueRuns(ctx, time.Now().UTC()); err != nil {
				p.logger.Error("scheduler: job poll failed", zap.Error(err))
			}
		}
	}
}
