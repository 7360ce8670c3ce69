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
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// dockerCallRate and dockerCallBurst bound how fast this adapter issues
// requests to the daemon: a build storm (many EnvironmentBuild creates
// superseding each other, §4.2.1) can otherwise fire far more Docker API
// calls per second than a single daemon comfortably services, each one
// also burning into withRetry's retry budget if it queues behind the
// others.
const (
	dockerCallRate  = 20
	dockerCallBurst = 20
)

// dockerCRA is the sole implementation of CRA that talks to a real
// container engine, wrapping github.com/docker/docker/client exactly as
// tinkerbell-tinkerbell's internal/runtime/docker package wraps it for
// its RuntimeExecutor.
type dockerCRA struct {
	cli     *client.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewDocker connects to the Docker engine using the standard
// DOCKER_HOST/DOCKER_CERT_PATH environment, negotiating the API version
// against the daemon.
func NewDocker(logger *zap.Logger) (CRA, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("cra: new docker client: %w", err)
	}
	limiter := rate.NewLimiter(rate.Limit(dockerCallRate), dockerCallBurst)
	return &dockerCRA{cli: cli, limiter: limiter, logger: logger}, nil
}

func (d *dockerCRA) Build(ctx context.Context, spec BuildSpec) (BuildResult, error) {
	if _, err := ParseReference(spec.Tag); err != nil {
		return BuildResult{}, err
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return BuildResult{}, fmt.Errorf("cra: rate limit: %w", err)
	}

	tarball, err := tarDir(spec.ContextDir)
	if err != nil {
		return BuildResult{}, fmt.Errorf("cra: tar build context: %w", err)
	}

	var result BuildResult
	err = withRetry(ctx, func() error {
		resp, err := d.cli.ImageBuild(ctx, tarball, buildOptions(spec))
		if err != nil {
			return fmt.Errorf("cra: image build: %w", err)
		}
		defer resp.Body.Close()

		id, err := readBuiltImageID(resp.Body)
		if err != nil {
			return err
		}
		result = BuildResult{ImageID: id}
		return nil
	})
	return result, err
}

func (d *dockerCRA) Run(ctx context.Context, spec RunSpec) (RunResult, error) {
	if _, err := ParseReference(spec.Image); err != nil {
		return RunResult{}, err
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return RunResult{}, fmt.Errorf("cra: rate limit: %w", err)
	}

	var result RunResult
	err := withRetry(ctx, func() error {
		created, err := d.cli.ContainerCreate(ctx,
			&container.Config{
				Image:  spec.Image,
				Cmd:    spec.Command,
				Env:    spec.Env,
				Labels: spec.Labels,
			},
			&container.HostConfig{Mounts: toDockerMounts(spec.Mounts)},
			nil, nil, spec.Name)
		if err != nil {
			return fmt.Errorf("cra: container create: %w", err)
		}
		if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
			return fmt.Errorf("cra: container start: %w", err)
		}
		result = RunResult{ContainerID: created.ID}
		return nil
	})
	return result, err
}

func (d *dockerCRA) Stop(ctx context.Context, name string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("cra: rate limit: %w", err)
	}
	return withRetry(ctx, func() error {
		if err := d.cli.ContainerStop(ctx, name, container.StopOptions{}); err != nil {
			if client.IsErrNotFound(err) {
				return ErrContainerNotFound
			}
			return fmt.Errorf("cra: container stop: %w", err)
		}
		if err := d.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
			if client.IsErrNotFound(err) {
				return nil
			}
			return fmt.Errorf("cra: container remove: %w", err)
		}
		return nil
	})
}

func (d *dockerCRA) InspectImage(ctx context.Context, ref string) (Image, error) {
	if _, err := ParseReference(ref); err != nil {
		return Image{}, err
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return Image{}, fmt.Errorf("cra: rate limit: %w", err)
	}

	var img Image
	err := withRetry(ctx, func() error {
		inspect, _, err := d.cli.ImageInspectWithRaw(ctx, ref)
		if err != nil {
			if client.IsErrNotFound(err) {
				return ErrImageNotFound
			}
			return fmt.Errorf("cra: image inspect: %w", err)
		}
		img = Image{ID: inspect.ID, Tags: inspect.RepoTags, Labels: inspect.Config.Labels}
		return nil
	})
	return img, err
}

func (d *dockerCRA) RemoveImage(ctx context.Context, imageID string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("cra: rate limit: %w", err)
	}
	return withRetry(ctx, func() error {
		_, err := d.cli.ImageRemove(ctx, imageID, image.RemoveOptions{Force: true})
		if err != nil {
			if client.IsErrNotFound(err) {
				return ErrImageNotFound
			}
			return fmt.Errorf("cra: image remove: %w", err)
		}
		return nil
	})
}

func (d *dockerCRA) ListImagesByLabel(ctx context.Context, label, value string) ([]Image, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("cra: rate limit: %w", err)
	}
	f := filters.NewArgs(filters.Arg("label", fmt.Sprintf("%s=%s", label, value)))
	var out []Image
	err := withRetry(ctx, func() error {
		summaries, err := d.cli.ImageList(ctx, image.ListOptions{Filters: f})
		if err != nil {
			return fmt.Errorf("cra: image list: %w", err)
		}
		out = make([]Image, 0, len(summaries))
		for _, s := range summaries {
			out = append(out, Image{ID: s.ID, Tags: s.RepoTags, Labels: s.Labels})
		}
		return nil
	})
	return out, err
}

func buildOptions(spec BuildSpec) build.ImageBuildOptions {
	return build.ImageBuildOptions{
		Tags:       []string{spec.Tag},
		Dockerfile: spec.Dockerfile,
		Labels:     spec.Labels,
		Remove:     true,
	}
}

func toDockerMounts(mounts []Mount) []container.MountPoint {
	// container.MountPoint is the inspect-side read model; HostConfig
	// mount requests use mount.Mount. Kept as a distinct conversion
	// point so callers of Run never import the mount package directly.
	out := make([]container.MountPoint, 0, len(mounts))
	for _, m := range mounts {
		out = append(out, container.MountPoint{Source: m.Source, Destination: m.Target, RW: !m.ReadOnly})
	}
	return out
}

func tarDir(dir string) (io.Reader, error) {
	buf := new(bytes.Buffer)
	tw := tar.NewWriter(buf)
	defer tw.Close()

	err := filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func readBuiltImageID(r io.Reader) (string, error) {
	dec := json.NewDecoder(r)
	var id string
	for {
		var msg struct {
			Aux struct {
				ID string `json:"ID"`
			} `json:"aux"`
			Error string `json:"error"`
		}
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("cra: decode build output: %w", err)
		}
		if msg.Error != "" {
			return "", fmt.Errorf("cra: build failed: %s", msg.Error)
		}
		if msg.Aux.ID != "" {
			id = msg.Aux.ID
		}
	}
	if id == "" {
		return "", errors.New("cra: build produced no image id")
	}
	return id, nil
}
