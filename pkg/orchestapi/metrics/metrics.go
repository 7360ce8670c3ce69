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

// Package metrics exposes orchest-api's Prometheus metrics, filling the
// role metrics.ExposeMetrics("horologium", ...) plays for the teacher:
// one counter per resource kind/status transition plus scheduler tick
// outcomes, served on a dedicated handler the way the teacher's
// instrumentation server is separate from its main traffic port.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ResourceTransitions counts every status write a Lifecycle
	// Controller makes, labeled by resource kind and the status written.
	ResourceTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchest_api_resource_transitions_total",
		Help: "Count of status transitions written by lifecycle controllers, by kind and status.",
	}, []string{"kind", "status"})

	// SchedulerTicks counts each Recurring Scheduler tick outcome, per
	// job type: "fired" or "skipped".
	SchedulerTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchest_api_scheduler_ticks_total",
		Help: "Count of Recurring Scheduler claim attempts, by job type and outcome.",
	}, []string{"job_type", "outcome"})

	// JobRunsInstantiated counts PipelineRuns produced by the per-Job
	// cron poller.
	JobRunsInstantiated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchest_api_job_runs_instantiated_total",
		Help: "Count of PipelineRuns instantiated by due Job schedules.",
	}, []string{"job_uuid"})

	// ImagesRemoved counts images the Garbage Collector actually removed.
	ImagesRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchest_api_gc_images_removed_total",
		Help: "Count of dangling images removed by the Garbage Collector.",
	})

	// ImageRemovalFailures counts images that exhausted their retry
	// budget without being removed.
	ImageRemovalFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchest_api_gc_image_removal_failures_total",
		Help: "Count of images that exhausted their removal retry budget.",
	})

	// HTTPRequests counts HTTP facade requests by route and status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchest_api_http_requests_total",
		Help: "Count of HTTP facade requests, by route and status code.",
	}, []string{"route", "code"})
)

// Expose mounts the Prometheus handler at /metrics and starts an HTTP
// server on addr. It blocks; run it in its own goroutine, the way
// metrics.ExposeMetrics spins up horologium's dedicated instrumentation
// port.
func Expose(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
