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
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/orchest/orchest-api/pkg/orchestapi/apis/v1"
)

// Active is the I2 read path: it row-locks every non-terminal jupyter
// build so the controller can supersede them before inserting a new one.
func TestJupyterBuildRepository_Active(t *testing.T) {
	st, mock := newTestStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"uuid", "requested_time", "started_time", "finished_time", "status"}).
		AddRow("jb-1", now, nil, nil, v1.Started)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT uuid, requested_time, started_time, finished_time, status\nFROM jupyter_builds").
		WillReturnRows(rows)
	mock.ExpectCommit()

	var got []v1.JupyterBuild
	err := st.WithTx(context.Background(), func(tx *Tx) error {
		var err error
		got, err = st.JupyterBuilds.Active(context.Background(), tx)
		return err
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, v1.Started, got[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJupyterBuildRepository_UpdateStatus_AlreadyTerminalIsNotUpdated(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE jupyter_builds").
		WithArgs(v1.Failure, sqlmock.AnyArg(), sqlmock.AnyArg(), "jb-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := st.WithTx(context.Background(), func(tx *Tx) error {
		return st.JupyterBuilds.UpdateStatus(context.Background(), tx, "jb-1", v1.StatusUpdate{Status: v1.Failure})
	})
	assert.ErrorIs(t, err, ErrNotUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}
