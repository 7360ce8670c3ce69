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
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateEnvironmentBuilds_AllSucceed(t *testing.T) {
	s, mock := newTestServer(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT uuid, project_uuid, environment_uuid, project_path, requested_time").
		WithArgs("p1", "e1", "/a").
		WillReturnRows(sqlmock.NewRows([]string{"uuid", "project_uuid", "environment_uuid", "project_path",
			"requested_time", "started_time", "finished_time", "status"}))
	mock.ExpectExec("INSERT INTO environment_builds").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	body := `{"environment_build_requests":[{"project_uuid":"p1","environment_uuid":"e1","project_path":"/a"}]}`
	req := httptest.NewRequest(http.MethodPost, "/environment-builds/", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	s.createEnvironmentBuilds(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp createEnvironmentBuildsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.EnvironmentBuilds, 1)
	assert.Empty(t, resp.FailedRequests)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// When one tuple's create fails the others must still commit: §6
// documents 500 with a populated failed_requests list, not an
// all-or-nothing rollback of the whole batch.
func TestCreateEnvironmentBuilds_PartialFailureReportsFailedRequests(t *testing.T) {
	s, mock := newTestServer(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT uuid, project_uuid, environment_uuid, project_path, requested_time").
		WithArgs("p1", "e1", "/a").
		WillReturnRows(sqlmock.NewRows([]string{"uuid", "project_uuid", "environment_uuid", "project_path",
			"requested_time", "started_time", "finished_time", "status"}))
	mock.ExpectExec("INSERT INTO environment_builds").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT uuid, project_uuid, environment_uuid, project_path, requested_time").
		WithArgs("p1", "e2", "/a").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	body := `{"environment_build_requests":[
		{"project_uuid":"p1","environment_uuid":"e1","project_path":"/a"},
		{"project_uuid":"p1","environment_uuid":"e2","project_path":"/a"}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/environment-builds/", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	s.createEnvironmentBuilds(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp createEnvironmentBuildsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.EnvironmentBuilds, 1)
	require.Len(t, resp.FailedRequests, 1)
	assert.Equal(t, "e2", resp.FailedRequests[0].EnvironmentUUID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateEnvironmentBuilds_EmptyBatchIsValidationError(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"environment_build_requests":[]}`
	req := httptest.NewRequest(http.MethodPost, "/environment-builds/", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	s.createEnvironmentBuilds(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateEnvironmentBuilds_MalformedBodyIsValidationError(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/environment-builds/", bytes.NewBufferString(`not json`))
	rec := httptest.NewRecorder()

	s.createEnvironmentBuilds(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEnvironmentBuild_NotFound(t *testing.T) {
	s, mock := newTestServer(t)
	mock.ExpectQuery("SELECT uuid, project_uuid, environment_uuid, project_path, requested_time").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	req := httptest.NewRequest(http.MethodGet, "/environment-builds/missing", nil)
	req = mux.SetURLVars(req, map[string]string{"uuid": "missing"})
	rec := httptest.NewRecorder()

	s.getEnvironmentBuild(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
