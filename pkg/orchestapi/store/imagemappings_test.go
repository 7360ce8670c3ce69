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

package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/orchest/orchest-api/pkg/orchestapi/apis/v1"
)

func TestImageMappingRepository_Insert(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO pipeline_run_image_mappings").
		WithArgs("run-1", "env1", "sha256:aaa").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO pipeline_run_image_mappings").
		WithArgs("run-1", "env2", "sha256:bbb").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	rows := []v1.PipelineRunImageMapping{
		{RunUUID: "run-1", OrchestEnvironmentUUID: "env1", DockerImgID: "sha256:aaa"},
		{RunUUID: "run-1", OrchestEnvironmentUUID: "env2", DockerImgID: "sha256:bbb"},
	}
	err := st.WithTx(context.Background(), func(tx *Tx) error {
		return st.ImageMappings.Insert(context.Background(), tx, rows)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImageMappingRepository_UpdateDockerImgID(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE pipeline_run_image_mappings").
		WithArgs("sha256:new", "run-1", "env1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := st.WithTx(context.Background(), func(tx *Tx) error {
		return st.ImageMappings.UpdateDockerImgID(context.Background(), tx, "run-1", "env1", "sha256:new")
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImageMappingRepository_ForRun(t *testing.T) {
	st, mock := newTestStore(t)
	rows := sqlmock.NewRows([]string{"run_uuid", "orchest_environment_uuid", "docker_img_id"}).
		AddRow("run-1", "env1", "sha256:aaa")
	mock.ExpectQuery("SELECT run_uuid, orchest_environment_uuid, docker_img_id").
		WithArgs("run-1").
		WillReturnRows(rows)

	got, err := st.ImageMappings.ForRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sha256:aaa", got[0].DockerImgID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
