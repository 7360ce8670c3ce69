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

// createRunRequest is the run spec body §6 leaves unspecified beyond
// "run spec (see below)"; it carries everything PipelineRunController.Create
// needs to resolve referenced environments and lock their images (§4.4).
type createRunRequest struct {
	ProjectUUID        string                         `json:"project_uuid"`
	PipelineUUID       string                         `json:"pipeline_uuid"`
	PipelineDefinition controllers.PipelineDefinition `json:"pipeline_definition"`
	PipelineParameters json.RawMessage                `json:"pipeline_parameters,omitempty"`
}

// createRun handles POST /runs/ (§4.2.4).
func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var body createRunRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	if body.ProjectUUID == "" || body.PipelineUUID == "" {
		writeError(w, s.Logger, NewValidationError("project_uuid and pipeline_uuid are required"))
		return
	}

	run, err := s.Runs.Create(r.Context(), controllers.RunSpec{
		ProjectUUID:        body.ProjectUUID,
		PipelineUUID:       body.PipelineUUID,
		Kind:               v1.KindInteractive,
		Definition:         body.PipelineDefinition,
		PipelineParameters: body.PipelineParameters,
	})
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

// getRun handles GET /runs/<uuid>.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	run, err := s.Runs.Get(r.Context(), uuid)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// updateRunStatus handles PUT /runs/<uuid>: the worker status-update
// callback of §4.3.
func (s *Server) updateRunStatus(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	var upd v1.StatusUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	if err := s.Runs.ApplyStatusUpdate(r.Context(), uuid, upd); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// abortRun handles DELETE /runs/<uuid>.
func (s *Server) abortRun(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	if err := s.Runs.Abort(r.Context(), uuid); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
