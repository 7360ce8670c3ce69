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
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	v1 "github.com/orchest/orchest-api/pkg/orchestapi/apis/v1"
)

// ImageMappingRepository is the SS half of the Resource Locker, §4.4: the
// PipelineRunImageMapping rows that pin a run to exact image ids.
type ImageMappingRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Insert bulk-inserts the first lock attempt's mapping rows (step 2 of
// §4.4's protocol).
func (r *ImageMappingRepository) Insert(ctx context.Context, tx *Tx, mappings []v1.PipelineRunImageMapping) error {
	const q = `INSERT INTO pipeline_run_image_mappings (run_uuid, orchest_environment_uuid, docker_img_id) VALUES ($1, $2, $3)`
	for _, m := range mappings {
		if _, err := tx.ExecContext(ctx, q, m.RunUUID, m.OrchestEnvironmentUUID, m.DockerImgID); err != nil {
			return fmt.Errorf("store: insert image mapping: %w", err)
		}
	}
	return nil
}

// UpdateDockerImgID rewrites a single mapping row's docker_img_id, used
// by the convergence loop (step 4 of §4.4) when a build renamed the
// image between the read and the commit.
func (r *ImageMappingRepository) UpdateDockerImgID(ctx context.Context, tx *Tx, runUUID, envUUID, dockerImgID string) error {
	const q = `UPDATE pipeline_run_image_mappings SET docker_img_id = $1 WHERE run_uuid = $2 AND orchest_environment_uuid = $3`
	if _, err := tx.ExecContext(ctx, q, dockerImgID, runUUID, envUUID); err != nil {
		return fmt.Errorf("store: update image mapping: %w", err)
	}
	return nil
}

// ForRun returns every mapping row for a run, used by property test P2 and
// by step execution to resolve which image id a step's environment
// currently points to.
func (r *ImageMappingRepository) ForRun(ctx context.Context, runUUID string) ([]v1.PipelineRunImageMapping, error) {
	const q = `SELECT run_uuid, orchest_environment_uuid, docker_img_id FROM pipeline_run_image_mappings WHERE run_uuid = $1`
	var rows []v1.PipelineRunImageMapping
	if err := r.db.SelectContext(ctx, &rows, q, runUUID); err != nil {
		return nil, fmt.Errorf("store: image mappings for run: %w", err)
	}
	return rows, nil
}
