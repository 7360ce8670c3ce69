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

// EnvironmentBuildRepository is the SS half of §4.2.1.
type EnvironmentBuildRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// ActiveForTuple returns every EnvironmentBuild in {PENDING, STARTED} for
// the (project_uuid, environment_uuid, project_path) tuple, ordered
// oldest first. Invariant I1 depends on callers aborting all of these
// before inserting a new row.
func (r *EnvironmentBuildRepository) ActiveForTuple(ctx context.Context, tx *Tx, projectUUID, environmentUUID, projectPath string) ([]v1.EnvironmentBuild, error) {
	const q = `
SELECT uuid, project_uuid, environment_uuid, project_path, requested_time,
       started_time, finished_time, status
FROM environment_builds
WHERE project_uuid = $1 AND environment_uuid = $2 AND project_path = $3
  AND status IN ('PENDING', 'STARTED')
ORDER BY requested_time ASC
FOR UPDATE`
	var rows []v1.EnvironmentBuild
	if err := tx.SelectContext(ctx, &rows, q, projectUUID, environmentUUID, projectPath); err != nil {
		return nil, fmt.Errorf("store: active env builds for tuple: %w", err)
	}
	return rows, nil
}

// Insert creates a new EnvironmentBuild row in PENDING status.
func (r *EnvironmentBuildRepository) Insert(ctx context.Context, tx *Tx, b v1.EnvironmentBuild) error {
	const q = `
INSERT INTO environment_builds (uuid, project_uuid, environment_uuid, project_path, requested_time, status)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := tx.ExecContext(ctx, q, b.UUID, b.ProjectUUID, b.EnvironmentUUID, b.ProjectPath, b.RequestedTime, b.Status)
	if err != nil {
		return fmt.Errorf("store: insert env build: %w", err)
	}
	return nil
}

// Get fetches a single EnvironmentBuild by uuid.
func (r *EnvironmentBuildRepository) Get(ctx context.Context, uuid string) (v1.EnvironmentBuild, error) {
	const q = `
SELECT uuid, project_uuid, environment_uuid, project_path, requested_time,
       started_time, finished_time, status
FROM environment_builds WHERE uuid = $1`
	var b v1.EnvironmentBuild
	if err := r.db.GetContext(ctx, &b, q, uuid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, ErrNotFound
		}
		return b, fmt.Errorf("store: get env build: %w", err)
	}
	return b, nil
}

// List fetches every EnvironmentBuild, past and present.
func (r *EnvironmentBuildRepository) List(ctx context.Context) ([]v1.EnvironmentBuild, error) {
	const q = `
SELECT uuid, project_uuid, environment_uuid, project_path, requested_time,
       started_time, finished_time, status
FROM environment_builds ORDER BY requested_time DESC`
	var rows []v1.EnvironmentBuild
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("store: list env builds: %w", err)
	}
	return rows, nil
}

// MostRecentPerEnvironment returns, for a project, the most recently
// requested build for each environment that has ever had one requested.
func (r *EnvironmentBuildRepository) MostRecentPerEnvironment(ctx context.Context, projectUUID string) ([]v1.EnvironmentBuild, error) {
	const q = `
SELECT uuid, project_uuid, environment_uuid, project_path, requested_time,
       started_time, finished_time, status
FROM (
	SELECT *, RANK() OVER (PARTITION BY environment_uuid ORDER BY requested_time DESC) AS rnk
	FROM environment_builds WHERE project_uuid = $1
) ranked WHERE rnk = 1`
	var rows []v1.EnvironmentBuild
	if err := r.db.SelectContext(ctx, &rows, q, projectUUID); err != nil {
		return nil, fmt.Errorf("store: most recent env builds: %w", err)
	}
	return rows, nil
}

// MostRecentForEnvironment returns the single most recently requested
// build for one (project, environment) pair, if any has ever been
// requested.
func (r *EnvironmentBuildRepository) MostRecentForEnvironment(ctx context.Context, projectUUID, environmentUUID string) (*v1.EnvironmentBuild, error) {
	const q = `
SELECT uuid, project_uuid, environment_uuid, project_path, requested_time,
       started_time, finished_time, status
FROM environment_builds
WHERE project_uuid = $1 AND environment_uuid = $2
ORDER BY requested_time DESC LIMIT 1`
	var b v1.EnvironmentBuild
	if err := r.db.GetContext(ctx, &b, q, projectUUID, environmentUUID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: most recent env build: %w", err)
	}
	return &b, nil
}

// ForProjectEnvironmentOrderedDesc returns every build for a (project,
// environment) pair, newest first, used by DeleteForEnv (and through it
// DeleteForProject) to find the head that might still be active.
func (r *EnvironmentBuildRepository) ForProjectEnvironmentOrderedDesc(ctx context.Context, projectUUID, environmentUUID string) ([]v1.EnvironmentBuild, error) {
	const q = `
SELECT uuid, project_uuid, environment_uuid, project_path, requested_time,
       started_time, finished_time, status
FROM environment_builds
WHERE project_uuid = $1 AND environment_uuid = $2
ORDER BY requested_time DESC`
	var rows []v1.EnvironmentBuild
	if err := r.db.SelectContext(ctx, &rows, q, projectUUID, environmentUUID); err != nil {
		return nil, fmt.Errorf("store: env builds for project/env: %w", err)
	}
	return rows, nil
}

// DistinctEnvironmentsForProject returns the distinct environment uuids
// that have ever had an EnvironmentBuild row, for a project.
func (r *EnvironmentBuildRepository) DistinctEnvironmentsForProject(ctx context.Context, projectUUID string) ([]string, error) {
	const q = `SELECT DISTINCT environment_uuid FROM environment_builds WHERE project_uuid = $1`
	var envs []string
	if err := r.db.SelectContext(ctx, &envs, q, projectUUID); err != nil {
		return nil, fmt.Errorf("store: distinct env builds envs: %w", err)
	}
	return envs, nil
}

// UpdateStatus applies the status-update protocol of §4.3: it only
// touches a row whose current status is in {PENDING, STARTED} (I5), and
// reports whether it changed anything via ErrNotUpdated.
func (r *EnvironmentBuildRepository) UpdateStatus(ctx context.Context, tx *Tx, uuid string, upd v1.StatusUpdate) error {
	const q = `
UPDATE environment_builds
SET status = $1, started_time = COALESCE($2, started_time), finished_time = COALESCE($3, finished_time)
WHERE uuid = $4 AND status IN ('PENDING', 'STARTED')`
	res, err := tx.ExecContext(ctx, q, upd.Status, upd.StartedTime, upd.FinishedTime, uuid)
	if err != nil {
		return fmt.Errorf("store: update env build status: %w", err)
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

// Delete hard-deletes a set of builds by uuid.
func (r *EnvironmentBuildRepository) Delete(ctx context.Context, tx *Tx, uuids []string) error {
	if len(uuids) == 0 {
		return nil
	}
	q, args, err := sqlx.In(`DELETE FROM environment_builds WHERE uuid IN (?)`, uuids)
	if err != nil {
		return fmt.Errorf("store: build delete query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(q), args...); err != nil {
		return fmt.Errorf("store: delete env builds: %w", err)
	}
	return nil
}
