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

// Package cra is the Container Runtime Adapter: the narrow interface
// every other orchest-api package uses to talk to the container engine.
// No package outside cra imports github.com/docker/docker/client
// directly, the same boundary tinkerbell-tinkerbell draws around its
// RuntimeExecutor interface.
package cra

import "context"

// BuildSpec describes an image build request.
type BuildSpec struct {
	ContextDir string
	Dockerfile string
	Tag        string
	Labels     map[string]string
}

// BuildResult is what a completed build produced.
type BuildResult struct {
	ImageID string
}

// RunSpec describes a container run request.
type RunSpec struct {
	Image   string
	Name    string
	Command []string
	Env     []string
	Mounts  []Mount
	Labels  map[string]string
	Ports   map[string]string
}

// Mount is a host-path to container-path bind mount.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// RunResult is what a started container looks like.
type RunResult struct {
	ContainerID string
	Endpoints   map[string]string
}

// Image describes a materialized environment or jupyter image.
type Image struct {
	ID     string
	Tags   []string
	Labels map[string]string
}

// CRA is implemented by everything that can build, run, stop, inspect,
// list and remove containers/images on behalf of the control plane.
// Every method is blocking and bounded only by the ctx it is given:
// neither the adapter nor its callers apply a default per-call timeout,
// so a call on a context without a deadline waits for the engine.
type CRA interface {
	// Build builds an image from spec and returns its resulting id.
	// Returns ErrImageNotFound is never produced by Build; build
	// failures are reported as a plain error.
	Build(ctx context.Context, spec BuildSpec) (BuildResult, error)

	// Run starts a container from spec.
	Run(ctx context.Context, spec RunSpec) (RunResult, error)

	// Stop stops and removes a running container by name. Returns
	// ErrContainerNotFound if no such container exists.
	Stop(ctx context.Context, name string) error

	// InspectImage resolves name to its current image id. Returns
	// ErrImageNotFound if name does not resolve to any image.
	InspectImage(ctx context.Context, name string) (Image, error)

	// RemoveImage deletes an image by id. Returns ErrImageNotFound if
	// the image does not exist; callers treat that as a no-op (§7).
	RemoveImage(ctx context.Context, imageID string) error

	// ListImagesByLabel lists every image carrying label=value.
	ListImagesByLabel(ctx context.Context, label, value string) ([]Image, error)
}
