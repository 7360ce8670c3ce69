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

package cra

import (
	"fmt"

	"github.com/google/go-containerregistry/pkg/name"
)

// Container labels set by builds and queried by the garbage collector
// (§6).
const (
	LabelEnvBuildTaskUUID    = "_orchest_env_build_task_uuid"
	LabelEnvBuildIntermediate = "_orchest_env_build_is_intermediate"
	LabelProjectUUID         = "_orchest_project_uuid"
	LabelEnvironmentUUID     = "_orchest_environment_uuid"
)

// maxUUIDComponentLen truncates a UUID embedded into an image reference
// to 18 characters, avoiding a trailing hyphen under UUIDv4 (§6).
const maxUUIDComponentLen = 18

func truncateUUID(uuid string) string {
	if len(uuid) <= maxUUIDComponentLen {
		return uuid
	}
	return uuid[:maxUUIDComponentLen]
}

// EnvironmentImageName returns the canonical image name for an
// environment, `orchest-env-{project_uuid}-{environment_uuid}`, with
// each UUID truncated per §6.
func EnvironmentImageName(projectUUID, environmentUUID string) string {
	return fmt.Sprintf("orchest-env-%s-%s", truncateUUID(projectUUID), truncateUUID(environmentUUID))
}

// JupyterImageName is the canonical, project-less image name the single
// Jupyter server build produces.
const JupyterImageName = "orchest-jupyter-server"

// ParseReference validates ref as a well-formed image reference using
// the same parser jordigilh-kubernaut depends on for registry/image/tag
// splitting, rather than hand-rolled string splitting.
func ParseReference(ref string) (name.Reference, error) {
	r, err := name.ParseReference(ref)
	if err != nil {
		return nil, fmt.Errorf("cra: parse image reference %q: %w", ref, err)
	}
	return r, nil
}
