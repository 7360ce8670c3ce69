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
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/orchest/orchest-api/pkg/orchestapi/cra"
)

type environmentImagesListResponse struct {
	Images []cra.Image `json:"images"`
}

// listEnvironmentImages handles GET /environment-images/<project_uuid>,
// the supplemented listing endpoint dropped from spec.md but present in
// namespace_environment_images.py.
func (s *Server) listEnvironmentImages(w http.ResponseWriter, r *http.Request) {
	projectUUID := mux.Vars(r)["project_uuid"]
	images, err := s.Runtime.ListImagesByLabel(r.Context(), cra.LabelProjectUUID, projectUUID)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, environmentImagesListResponse{Images: images})
}

// deleteEnvironmentImage handles DELETE /environment-images/<project_uuid>/<environment_uuid>,
// mirroring namespace_environment_images.py's DeleteImage: abort the
// environment's builds, remove its canonical image, and sweep whatever
// that leaves dangling.
func (s *Server) deleteEnvironmentImage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	projectUUID, environmentUUID := vars["project_uuid"], vars["environment_uuid"]

	if err := s.EnvironmentBuilds.DeleteForEnv(r.Context(), projectUUID, environmentUUID); err != nil {
		writeError(w, s.Logger, err)
		return
	}

	name := cra.EnvironmentImageName(projectUUID, environmentUUID)
	if err := s.Runtime.RemoveImage(r.Context(), name); err != nil && !errors.Is(err, cra.ErrImageNotFound) {
		s.Logger.Error("remove environment image failed", zap.String("image", name), zap.Error(err))
	}

	if s.GC != nil {
		if err := s.GC.SweepProject(r.Context(), projectUUID); err != nil {
			s.Logger.Error("sweep project images after environment delete failed", zap.Error(err))
		}
	}

	w.WriteHeader(http.StatusOK)
}
