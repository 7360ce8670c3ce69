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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/orchest/orchest-api/pkg/orchestapi/apis/v1"
)

func TestJobRepository_ListDueUUIDs(t *testing.T) {
	st, mock := newTestStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"uuid"}).AddRow("job-1").AddRow("job-2")
	mock.ExpectQuery("SELECT uuid FROM jobs").WithArgs(now).WillReturnRows(rows)

	got, err := st.Jobs.ListDueUUIDs(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1", "job-2"}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_GetDueForUpdate_SkipsLockedOrAlreadyClaimed(t *testing.T) {
	st, mock := newTestStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT uuid, project_uuid, pipeline_uuid, pipeline_definition, pipeline_run_spec, job_parameters").
		WithArgs("job-1", now).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := st.WithTx(context.Background(), func(tx *Tx) error {
		_, err := st.Jobs.GetDueForUpdate(context.Background(), tx, "job-1", now)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_GetDueForUpdate_ReturnsLockedRow(t *testing.T) {
	st, mock := newTestStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"uuid", "project_uuid", "pipeline_uuid", "pipeline_definition",
		"pipeline_run_spec", "job_parameters", "schedule", "next_scheduled_time",
		"total_scheduled_executions", "status"}).
		AddRow("job-1", "proj", "pipe", []byte(`{}`), []byte(`{}`), nil, nil, now, 3, v1.JobStarted)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT uuid, project_uuid, pipeline_uuid, pipeline_definition, pipeline_run_spec, job_parameters").
		WithArgs("job-1", now).
		WillReturnRows(rows)
	mock.ExpectCommit()

	var got v1.Job
	err := st.WithTx(context.Background(), func(tx *Tx) error {
		var err error
		got, err = st.Jobs.GetDueForUpdate(context.Background(), tx, "job-1", now)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.UUID)
	assert.Equal(t, 3, got.TotalScheduledExecutions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_AdvanceSchedule(t *testing.T) {
	st, mock := newTestStore(t)
	next := time.Now().Add(time.Hour).UTC()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE jobs SET total_scheduled_executions").
		WithArgs(1, sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := st.WithTx(context.Background(), func(tx *Tx) error {
		return st.Jobs.AdvanceSchedule(context.Background(), tx, "job-1", 1, &next)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
