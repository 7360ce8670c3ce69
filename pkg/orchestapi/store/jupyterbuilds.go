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
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	v1 "github.com/orchest/orchest-api/pkg/orchestapi/apis/v1"
)

// JupyterBuildRepository is the SS half of §4.2.2: a single logical slot,
// no project dimension.
type JupyterBuildRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func (r *JupyterBuildRepository) Active(ctx context.Context, tx *Tx) ([]v1.JupyterBuild, error) {
	const q = `
SELECT uuid, requested_time, started_time, finished_time, status
FROM jupyter_builds WHERE status IN ('PENDING', 'STARTED')
ORDER BY requested_time ASC FOR UPDATE`
	var rows []v1.JupyterBuild
	if err := tx.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("store: active jupyter builds: %w", err)
	}
	return rows, nil
}

func (r *JupyterBuildRepository) Insert(ctx context.Context, tx *Tx, b v1.JupyterBuild) error {
	const q = `INSERT INTO jupyter_builds (uuid, requested_time, status) VALUES ($1, $2, $3)`
	if _, err := tx.ExecContext(ctx, q, b.UUID, b.RequestedTime, b.Status); err != nil {
		return fmt.Errorf("store: insert jupyter build: %w", err)
	}
	return nil
}

func (r *JupyterBuildRepository) Get(ctx context.Context, uuid string) (v1.JupyterBuild, error) {
	const q = `SELECT uuid, requested_time, started_time, finished_time, status FROM jupyter_builds WHERE uuid = $1`
	var b v1.JupyterBuild
	if err := r.db.GetContext(ctx, &b, q, uuid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, ErrNotFound
		}
		return b, fmt.Errorf("store: get jupyter build: %w", err)
	}
	return b, nil
}

func (r *JupyterBuildRepository) List(ctx context.Context) ([]v1.JupyterBuild, error) {
	const q = `SELECT uuid, requested_time, started_time, finished_time, status FROM jupyter_builds ORDER BY requested_time DESC`
	var rows []v1.JupyterBuild
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("store: list jupyter builds: %w", err)
	}
	return rows, nil
}

func (r *JupyterBuildRepository) UpdateStatus(ctx context.Context, tx *Tx, uuid string, upd v1.StatusUpdate) error {
	const q = `
UPDATE jupyter_builds
SET status = $1, started_time = COALESCE($2, started_time), finished_time = COALESCE($3, finished_time)
WHERE uuid = $4 AND status IN ('PENDING', 'STARTED')`
	res, err := tx.ExecContext(ctx, q, upd.Status, upd.StartedTime, upd.FinishedTime, uuid)
	if err != nil {
		return fmt.Errorf("store: update jupyter build status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotUpdated
	}
	return nil
}
