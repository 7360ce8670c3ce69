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

func TestSchedulerJobRepository_GetForUpdate_ExistingRow(t *testing.T) {
	st, mock := newTestStore(t)
	ts := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"type", "timestamp"}).AddRow(v1.TelemetryHeartbeat, ts)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT type, timestamp FROM scheduler_jobs").
		WithArgs(v1.TelemetryHeartbeat).
		WillReturnRows(rows)
	mock.ExpectCommit()

	var got v1.SchedulerJob
	err := st.WithTx(context.Background(), func(tx *Tx) error {
		var err error
		got, err = st.SchedulerJobs.GetForUpdate(context.Background(), tx, v1.TelemetryHeartbeat)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, v1.TelemetryHeartbeat, got.Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// GetForUpdate seeds a zero-timestamp row the first time a job type is
// seen, so the scheduler's epsilon check always has a row to compare
// against (I7).
func TestSchedulerJobRepository_GetForUpdate_SeedsMissingRow(t *testing.T) {
	st, mock := newTestStore(t)
	zeroTime := time.Unix(0, 0).UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT type, timestamp FROM scheduler_jobs").
		WithArgs(v1.OrchestExamples).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO scheduler_jobs").
		WithArgs(v1.OrchestExamples, zeroTime).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT type, timestamp FROM scheduler_jobs").
		WithArgs(v1.OrchestExamples).
		WillReturnRows(sqlmock.NewRows([]string{"type", "timestamp"}).AddRow(v1.OrchestExamples, zeroTime))
	mock.ExpectCommit()

	var got v1.SchedulerJob
	err := st.WithTx(context.Background(), func(tx *Tx) error {
		var err error
		got, err = st.SchedulerJobs.GetForUpdate(context.Background(), tx, v1.OrchestExamples)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, v1.OrchestExamples, got.Type)
	assert.True(t, got.Timestamp.Equal(zeroTime))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulerJobRepository_SetTimestamp(t *testing.T) {
	st, mock := newTestStore(t)
	at := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE scheduler_jobs SET timestamp").
		WithArgs(at, v1.TelemetryHeartbeat).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := st.WithTx(context.Background(), func(tx *Tx) error {
		return st.SchedulerJobs.SetTimestamp(context.Background(), tx, v1.TelemetryHeartbeat, at)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
