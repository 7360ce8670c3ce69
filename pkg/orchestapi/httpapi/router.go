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

// Package httpapi is the HTTP Facade (§6): one route per resource
// operation, routed with gorilla/mux the way the teacher's deck and hook
// binaries route their own traffic, gzip-compressed with
// github.com/NYTimes/gziphandler, with github.com/felixge/fgprof mounted
// for live profiling the way pjutil/pprof instruments the teacher's
// binaries.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/felixge/fgprof"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/orchest/orchest-api/pkg/orchestapi/controllers"
	"github.com/orchest/orchest-api/pkg/orchestapi/cra"
	"github.com/orchest/orchest-api/pkg/orchestapi/gc"
	"github.com/orchest/orchest-api/pkg/orchestapi/health"
	"github.com/orchest/orchest-api/pkg/orchestapi/metrics"
)

// Server bundles the lifecycle controllers the facade routes requests
// into.
type Server struct {
	EnvironmentBuilds *controllers.EnvironmentBuildController
	JupyterBuilds     *controllers.JupyterBuildController
	Sessions          *controllers.SessionController
	Runs              *controllers.PipelineRunController
	Jobs              *controllers.JobController
	Runtime           cra.CRA
	GC                *gc.Collector
	Health            *health.Handler
	Logger            *zap.Logger
}

// Router builds the gorilla/mux router for every route §6 and the
// supplemented environment-images endpoints define. Paths are bare,
// matching §6's table literally rather than nesting under an /api
// prefix.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.instrumentRoute)

	r.HandleFunc("/environment-builds/", s.listEnvironmentBuilds).Methods(http.MethodGet)
	r.HandleFunc("/environment-builds/", s.createEnvironmentBuilds).Methods(http.MethodPost)
	r.HandleFunc("/environment-builds/most-recent/{project_uuid}", s.mostRecentEnvironmentBuilds).Methods(http.MethodGet)
	r.HandleFunc("/environment-builds/most-recent/{project_uuid}/{environment_uuid}", s.mostRecentEnvironmentBuild).Methods(http.MethodGet)
	r.HandleFunc("/environment-builds/{uuid}", s.getEnvironmentBuild).Methods(http.MethodGet)
	r.HandleFunc("/environment-builds/{uuid}", s.updateEnvironmentBuildStatus).Methods(http.MethodPut)
	r.HandleFunc("/environment-builds/{uuid}", s.abortEnvironmentBuild).Methods(http.MethodDelete)
	r.HandleFunc("/projects/{project_uuid}/environment-builds", s.deleteProjectEnvironmentBuilds).Methods(http.MethodDelete)
	r.HandleFunc("/projects/{project_uuid}/environments/{environment_uuid}/builds", s.deleteEnvironmentBuilds).Methods(http.MethodDelete)

	r.HandleFunc("/jupyter-builds/", s.listJupyterBuilds).Methods(http.MethodGet)
	r.HandleFunc("/jupyter-builds/", s.createJupyterBuild).Methods(http.MethodPost)
	r.HandleFunc("/jupyter-builds/{uuid}", s.getJupyterBuild).Methods(http.MethodGet)
	r.HandleFunc("/jupyter-builds/{uuid}", s.updateJupyterBuildStatus).Methods(http.MethodPut)
	r.HandleFunc("/jupyter-builds/{uuid}", s.abortJupyterBuild).Methods(http.MethodDelete)

	r.HandleFunc("/sessions/", s.launchSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{project_uuid}/{pipeline_uuid}", s.getSession).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{project_uuid}/{pipeline_uuid}", s.stopSession).Methods(http.MethodDelete)

	r.HandleFunc("/runs/", s.createRun).Methods(http.MethodPost)
	r.HandleFunc("/runs/{uuid}", s.getRun).Methods(http.MethodGet)
	r.HandleFunc("/runs/{uuid}", s.updateRunStatus).Methods(http.MethodPut)
	r.HandleFunc("/runs/{uuid}", s.abortRun).Methods(http.MethodDelete)

	r.HandleFunc("/jobs/", s.listJobs).Methods(http.MethodGet)
	r.HandleFunc("/jobs/", s.createJob).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{uuid}", s.getJob).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{uuid}/start", s.startJob).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{uuid}", s.abortJob).Methods(http.MethodDelete)

	r.HandleFunc("/environment-images/{project_uuid}", s.listEnvironmentImages).Methods(http.MethodGet)
	r.HandleFunc("/environment-images/{project_uuid}/{environment_uuid}", s.deleteEnvironmentImage).Methods(http.MethodDelete)

	if s.Health != nil {
		r.HandleFunc("/healthz", s.Health.Live).Methods(http.MethodGet)
		r.HandleFunc("/healthz/ready", s.Health.Ready).Methods(http.MethodGet)
	}

	// Metrics are served on their own instrumentation port (pkg/metrics'
	// Expose), not multiplexed onto the traffic-serving router, the same
	// split horologium's metrics.ExposeMetrics keeps from its main work.
	r.Handle("/debug/fgprof", fgprof.Handler())

	return gziphandler.GzipHandler(r)
}

// instrumentRoute records every request's route template and status code
// into metrics.HTTPRequests, mirroring deck's per-handler logrus field
// convention but as a Prometheus counter instead of a log line.
func (s *Server) instrumentRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if tpl, err := mux.CurrentRoute(r).GetPathTemplate(); err == nil {
			route = tpl
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		s.Logger.Debug("httpapi: request handled",
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
