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

	v1 "github.com/orchest/orchest-api/pkg/orchestapi/apis/v1"
)

type jupyterBuildsListResponse struct {
	JupyterBuilds []v1.JupyterBuild `json:"jupyter_builds"`
}

// createJupyterBuild handles POST /jupyter-builds/ (§4.2.2). It returns
// the SessionInProgress error as 500, per §7's compatibility note.
func (s *Server) createJupyterBuild(w http.ResponseWriter, r *http.Request) {
	build, err := s.JupyterBuilds.Create(r.Context())
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, build)
}

// listJupyterBuilds handles GET /jupyter-builds/.
func (s *Server) listJupyterBuilds(w http.ResponseWriter, r *http.Request) {
	builds, err := s.JupyterBuilds.List(r.Context())
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, jupyterBuildsListResponse{JupyterBuilds: builds})
}

// getJupyterBuild handles GET /jupyter-builds/<uuid>.
func (s *Server) getJupyterBuild(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	build, err := s.JupyterBuilds.Get(r.Context(), uuid)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, build)
}

// updateJupyterBuildStatus handles PUT /jupyter-builds/<uuid>: the worker
// status-update callback of §4.3.
func (s *Server) updateJupyterBuildStatus(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	var upd v1.StatusUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	if err := s.JupyterBuilds.ApplyStatusUpdate(r.Context(), uuid, upd); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// abortJupyterBuild handles DELETE /jupyter-builds/<uuid>.
func (s *Server) abortJupyterBuild(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	if err := s.JupyterBuilds.Abort(r.Context(), uuid); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
