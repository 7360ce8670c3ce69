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

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	v1 "github.com/orchest/orchest-api/pkg/orchestapi/apis/v1"
	"github.com/orchest/orchest-api/pkg/orchestapi/controllers"
)

type jobsListResponse struct {
	Jobs []v1.Job `json:"jobs"`
}

type createJobRequest struct {
	ProjectUUID        string          `json:"project_uuid"`
	PipelineUUID       string          `json:"pipeline_uuid"`
	PipelineDefinition json.RawMessage `json:"pipeline_definition"`
	PipelineRunSpec    json.RawMessage `json:"pipeline_run_spec"`
	JobParameters      json.RawMessage `json:"parameters"`
	Schedule           *string         `json:"schedule,omitempty"`
}

// createJob handles POST /jobs/ (§4.2.5): a job begins in DRAFT.
func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var body createJobRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	if body.ProjectUUID == "" || body.PipelineUUID == "" {
		writeError(w, s.Logger, NewValidationError("project_uuid and pipeline_uuid are required"))
		return
	}

	job, err := s.Jobs.Create(r.Context(), controllers.JobRequest{
		ProjectUUID:        body.ProjectUUID,
		PipelineUUID:       body.PipelineUUID,
		PipelineDefinition: body.PipelineDefinition,
		PipelineRunSpec:    body.PipelineRunSpec,
		JobParameters:      body.JobParameters,
		Schedule:           body.Schedule,
	})
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// listJobs handles GET /jobs/.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.Jobs.List(r.Context())
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, jobsListResponse{Jobs: jobs})
}

// getJob handles GET /jobs/<uuid>.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	job, err := s.Jobs.Get(r.Context(), uuid)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// startJob handles POST /jobs/<uuid>/start.
func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	if err := s.Jobs.Start(r.Context(), uuid); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// abortJob handles DELETE /jobs/<uuid>.
func (s *Server) abortJob(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	if err := s.Jobs.Abort(r.Context(), uuid); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
