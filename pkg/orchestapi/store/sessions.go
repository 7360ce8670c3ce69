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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	v1 "github.com/orchest/orchest-api/pkg/orchestapi/apis/v1"
)

// SessionRepository is the SS half of §4.2.3. An InteractiveSession is
// keyed by (project_uuid, pipeline_uuid); invariant I3 holds because Get
// and Insert both key on that pair and Insert fails on a duplicate key.
type SessionRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

type sessionRow struct {
	ProjectUUID  string `db:"project_uuid"`
	PipelineUUID string `db:"pipeline_uuid"`
	Status       string `db:"status"`
	Endpoints    []byte `db:"endpoints"`
}

func (row sessionRow) toModel() (v1.InteractiveSession, error) {
	s := v1.InteractiveSession{
		ProjectUUID:  row.ProjectUUID,
		PipelineUUID: row.PipelineUUID,
		Status:       v1.SessionState(row.Status),
	}
	if len(row.Endpoints) > 0 {
		if err := json.Unmarshal(row.Endpoints, &s.Endpoints); err != nil {
			return s, fmt.Errorf("store: unmarshal session endpoints: %w", err)
		}
	}
	return s, nil
}

func (r *SessionRepository) Get(ctx context.Context, projectUUID, pipelineUUID string) (v1.InteractiveSession, error) {
	const q = `SELECT project_uuid, pipeline_uuid, status, endpoints FROM interactive_sessions WHERE project_uuid = $1 AND pipeline_uuid = $2`
	var row sessionRow
	if err := r.db.GetContext(ctx, &row, q, projectUUID, pipelineUUID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return v1.InteractiveSession{}, ErrNotFound
		}
		return v1.InteractiveSession{}, fmt.Errorf("store: get session: %w", err)
	}
	return row.toModel()
}

func (r *SessionRepository) GetForUpdate(ctx context.Context, tx *Tx, projectUUID, pipelineUUID string) (v1.InteractiveSession, error) {
	const q = `SELECT project_uuid, pipeline_uuid, status, endpoints FROM interactive_sessions WHERE project_uuid = $1 AND pipeline_uuid = $2 FOR UPDATE`
	var row sessionRow
	if err := tx.GetContext(ctx, &row, q, projectUUID, pipelineUUID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return v1.InteractiveSession{}, ErrNotFound
		}
		return v1.InteractiveSession{}, fmt.Errorf("store: get session for update: %w", err)
	}
	return row.toModel()
}

func (r *SessionRepository) Insert(ctx context.Context, tx *Tx, s v1.InteractiveSession) error {
	endpoints, err := json.Marshal(s.Endpoints)
	if err != nil {
		return fmt.Errorf("store: marshal session endpoints: %w", err)
	}
	const q = `INSERT INTO interactive_sessions (project_uuid, pipeline_uuid, status, endpoints) VALUES ($1, $2, $3, $4)`
	if _, err := tx.ExecContext(ctx, q, s.ProjectUUID, s.PipelineUUID, s.Status, endpoints); err != nil {
		return fmt.Errorf("store: insert session: %w", err)
	}
	return nil
}

// TransitionForward moves a session from `from` to `to`, only if its
// current state is `from`, enforcing the strictly-forward lifecycle of
// §4.2.3.
func (r *SessionRepository) TransitionForward(ctx context.Context, tx *Tx, projectUUID, pipelineUUID string, from, to v1.SessionState, endpoints map[string]string) (bool, error) {
	var encoded []byte
	var err error
	if endpoints != nil {
		encoded, err = json.Marshal(endpoints)
		if err != nil {
			return false, fmt.Errorf("store: marshal endpoints: %w", err)
		}
	}
	const q = `
UPDATE interactive_sessions SET status = $1, endpoints = COALESCE($2, endpoints)
WHERE project_uuid = $3 AND pipeline_uuid = $4 AND status = $5`
	res, err := tx.ExecContext(ctx, q, to, encoded, projectUUID, pipelineUUID, from)
	if err != nil {
		return false, fmt.Errorf("store: transition session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *SessionRepository) Delete(ctx context.Context, tx *Tx, projectUUID, pipelineUUID string) error {
	const q = `DELETE FROM interactive_sessions WHERE project_uuid = $1 AND pipeline_uuid = $2`
	if _, err := tx.ExecContext(ctx, q, projectUUID, pipelineUUID); err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	return nil
}

// AnyActive reports whether any InteractiveSession, anywhere, is in
// {LAUNCHING, RUNNING, STOPPING}, the system-wide check JupyterBuild
// creation uses to enforce invariant I2.
func (r *SessionRepository) AnyActive(ctx context.Context, tx *Tx) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM interactive_sessions WHERE status IN ('LAUNCHING', 'RUNNING', 'STOPPING'))`
	var exists bool
	if err := tx.GetContext(ctx, &exists, q); err != nil {
		return false, fmt.Errorf("store: any active sessions: %w", err)
	}
	return exists, nil
}
