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
	"github.com/orchest/orchest-api/pkg/orchestapi/controllers"
)

type createEnvironmentBuildsRequest struct {
	EnvironmentBuildRequests []environmentBuildRequest `json:"environment_build_requests"`
}

type environmentBuildRequest struct {
	ProjectUUID     string `json:"project_uuid"`
	EnvironmentUUID string `json:"environment_uuid"`
	ProjectPath     string `json:"project_path"`
}

type createEnvironmentBuildsResponse struct {
	EnvironmentBuilds []v1.EnvironmentBuild    `json:"environment_builds"`
	FailedRequests    []environmentBuildRequest `json:"failed_requests"`
}

type environmentBuildsListResponse struct {
	EnvironmentBuilds []v1.EnvironmentBuild `json:"environment_builds"`
}

// createEnvironmentBuilds handles POST /environment-builds/ (§4.2.1).
func (s *Server) createEnvironmentBuilds(w http.ResponseWriter, r *http.Request) {
	var body createEnvironmentBuildsRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	if len(body.EnvironmentBuildRequests) == 0 {
		writeError(w, s.Logger, NewValidationError("environment_build_requests must not be empty"))
		return
	}

	reqs := make([]controllers.EnvironmentBuildRequest, 0, len(body.EnvironmentBuildRequests))
	for _, req := range body.EnvironmentBuildRequests {
		reqs = append(reqs, controllers.EnvironmentBuildRequest{
			ProjectUUID:     req.ProjectUUID,
			EnvironmentUUID: req.EnvironmentUUID,
			ProjectPath:     req.ProjectPath,
		})
	}

	builds, failed, err := s.EnvironmentBuilds.Create(r.Context(), reqs)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}

	resp := createEnvironmentBuildsResponse{
		EnvironmentBuilds: builds,
		FailedRequests:    make([]environmentBuildRequest, 0, len(failed)),
	}
	for _, f := range failed {
		resp.FailedRequests = append(resp.FailedRequests, environmentBuildRequest{
			ProjectUUID:     f.Request.ProjectUUID,
			EnvironmentUUID: f.Request.EnvironmentUUID,
			ProjectPath:     f.Request.ProjectPath,
		})
	}
	status := http.StatusCreated
	if len(resp.FailedRequests) > 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

// listEnvironmentBuilds handles GET /environment-builds/.
func (s *Server) listEnvironmentBuilds(w http.ResponseWriter, r *http.Request) {
	builds, err := s.EnvironmentBuilds.List(r.Context())
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, environmentBuildsListResponse{EnvironmentBuilds: builds})
}

// getEnvironmentBuild handles GET /environment-builds/<uuid>.
func (s *Server) getEnvironmentBuild(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	build, err := s.EnvironmentBuilds.Get(r.Context(), uuid)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, build)
}

// updateEnvironmentBuildStatus handles PUT /environment-builds/<uuid>: the
// worker status-update callback of §4.3.
func (s *Server) updateEnvironmentBuildStatus(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	var upd v1.StatusUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	if err := s.EnvironmentBuilds.ApplyStatusUpdate(r.Context(), uuid, upd); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// abortEnvironmentBuild handles DELETE /environment-builds/<uuid>.
func (s *Server) abortEnvironmentBuild(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	if err := s.EnvironmentBuilds.Abort(r.Context(), uuid); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// mostRecentEnvironmentBuilds handles GET /environment-builds/most-recent/<project_uuid>.
func (s *Server) mostRecentEnvironmentBuilds(w http.ResponseWriter, r *http.Request) {
	projectUUID := mux.Vars(r)["project_uuid"]
	builds, err := s.EnvironmentBuilds.MostRecentPerEnvironment(r.Context(), projectUUID)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, environmentBuildsListResponse{EnvironmentBuilds: builds})
}

// mostRecentEnvironmentBuild handles GET /environment-builds/most-recent/<project_uuid>/<env_uuid>.
func (s *Server) mostRecentEnvironmentBuild(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	build, err := s.EnvironmentBuilds.MostRecentForEnvironment(r.Context(), vars["project_uuid"], vars["environment_uuid"])
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	if build == nil {
		writeJSON(w, http.StatusOK, environmentBuildsListResponse{EnvironmentBuilds: []v1.EnvironmentBuild{}})
		return
	}
	writeJSON(w, http.StatusOK, build)
}

// deleteProjectEnvironmentBuilds handles the supplemented project-scoped
// teardown used when a project is deleted.
func (s *Server) deleteProjectEnvironmentBuilds(w http.ResponseWriter, r *http.Request) {
	projectUUID := mux.Vars(r)["project_uuid"]
	if err := s.EnvironmentBuilds.DeleteForProject(r.Context(), projectUUID); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deleteEnvironmentBuilds handles the supplemented environment-scoped
// teardown used when an environment is deleted.
func (s *Server) deleteEnvironmentBuilds(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.EnvironmentBuilds.DeleteForEnv(r.Context(), vars["project_uuid"], vars["environment_uuid"]); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
