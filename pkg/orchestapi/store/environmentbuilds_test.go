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
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/orchest/orchest-api/pkg/orchestapi/apis/v1"
)

func TestEnvironmentBuildRepository_ActiveForTuple(t *testing.T) {
	st, mock := newTestStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"uuid", "project_uuid", "environment_uuid", "project_path",
		"requested_time", "started_time", "finished_time", "status"}).
		AddRow("b1", "proj", "env", "/project", now, nil, nil, v1.Pending)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT uuid, project_uuid, environment_uuid, project_path, requested_time").
		WithArgs("proj", "env", "/project").
		WillReturnRows(rows)
	mock.ExpectCommit()

	var got []v1.EnvironmentBuild
	err := st.WithTx(context.Background(), func(tx *Tx) error {
		var err error
		got, err = st.EnvironmentBuilds.ActiveForTuple(context.Background(), tx, "proj", "env", "/project")
		return err
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b1", got[0].UUID)
	assert.Equal(t, v1.Pending, got[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnvironmentBuildRepository_Insert(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO environment_builds").
		WithArgs("b1", "proj", "env", "/project", sqlmock.AnyArg(), v1.Pending).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	build := v1.EnvironmentBuild{
		UUID: "b1", ProjectUUID: "proj", EnvironmentUUID: "env", ProjectPath: "/project",
		RequestedTime: time.Now().UTC(), Status: v1.Pending,
	}
	err := st.WithTx(context.Background(), func(tx *Tx) error {
		return st.EnvironmentBuilds.Insert(context.Background(), tx, build)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnvironmentBuildRepository_Get_NotFound(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectQuery("SELECT uuid, project_uuid, environment_uuid, project_path, requested_time").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := st.EnvironmentBuilds.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// UpdateStatus must never touch a row once a terminal status has been
// set (I5); the repository reports that as
// ErrNotUpdated rather than treating zero rows affected as success.
func TestEnvironmentBuildRepository_UpdateStatus_AlreadyTerminalIsNotUpdated(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE environment_builds").
		WithArgs(v1.Success, sqlmock.AnyArg(), sqlmock.AnyArg(), "b1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := st.WithTx(context.Background(), func(tx *Tx) error {
		return st.EnvironmentBuilds.UpdateStatus(context.Background(), tx, "b1", v1.StatusUpdate{Status: v1.Success})
	})
	assert.True(t, errors.Is(err, ErrNotUpdated))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnvironmentBuildRepository_Delete_EmptyIsNoop(t *testing.T) {
	st, mock := newTestStore(t)
	err := st.EnvironmentBuilds.Delete(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
