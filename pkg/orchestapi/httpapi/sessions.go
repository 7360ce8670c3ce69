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
	"net/http"

	"github.com/gorilla/mux"
)

type launchSessionRequest struct {
	ProjectUUID  string `json:"project_uuid"`
	PipelineUUID string `json:"pipeline_uuid"`
	ProjectDir   string `json:"project_dir"`
	PipelinePath string `json:"pipeline_path"`
	HostUserdir  string `json:"host_userdir"`
}

// launchSession handles POST /sessions/ (§4.2.3). project_dir,
// pipeline_path and host_userdir are accepted for request-shape
// compatibility but are not passed on: SessionController.Launch takes
// only the project and pipeline uuids, and the session container is
// started without mounts derived from these fields.
func (s *Server) launchSession(w http.ResponseWriter, r *http.Request) {
	var body launchSessionRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	if body.ProjectUUID == "" || body.PipelineUUID == "" {
		writeError(w, s.Logger, NewValidationError("project_uuid and pipeline_uuid are required"))
		return
	}

	session, err := s.Sessions.Launch(r.Context(), body.ProjectUUID, body.PipelineUUID)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// getSession handles GET /sessions/<project_uuid>/<pipeline_uuid>.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	session, err := s.Sessions.Get(r.Context(), vars["project_uuid"], vars["pipeline_uuid"])
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// stopSession handles DELETE /sessions/<project_uuid>/<pipeline_uuid>.
func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.Sessions.Stop(r.Context(), vars["project_uuid"], vars["pipeline_uuid"]); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
