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
	"context"
	"sync"

	"github.com/google/uuid"
)

// Fake is an in-memory CRA used by controller/lock/gc tests, the same
// role tinkerbell-tinkerbell's test doubles play for RuntimeExecutor.
type Fake struct {
	mu     sync.Mutex
	images map[string]Image
	// ByTag lets a test preseed InspectImage responses for a given
	// image name/tag before a build of that name has actually run.
	ByTag map[string]Image
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{images: make(map[string]Image), ByTag: make(map[string]Image)}
}

// SeedImage registers img directly, bypassing Build. Used by tests that
// need to set up an image with specific labels/tags (e.g. a dangling,
// untagged image) without going through a build.
func (f *Fake) SeedImage(img Image) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[img.ID] = img
	for _, tag := range img.Tags {
		f.ByTag[tag] = img
	}
}

func (f *Fake) Build(ctx context.Context, spec BuildSpec) (BuildResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "sha256:" + uuid.NewString()
	img := Image{ID: id, Tags: []string{spec.Tag}, Labels: spec.Labels}
	f.images[id] = img
	f.ByTag[spec.Tag] = img
	return BuildResult{ImageID: id}, nil
}

func (f *Fake) Run(ctx context.Context, spec RunSpec) (RunResult, error) {
	return RunResult{ContainerID: uuid.NewString()}, nil
}

func (f *Fake) Stop(ctx context.Context, name string) error {
	return nil
}

func (f *Fake) InspectImage(ctx context.Context, name string) (Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if img, ok := f.ByTag[name]; ok {
		return img, nil
	}
	if img, ok := f.images[name]; ok {
		return img, nil
	}
	return Image{}, ErrImageNotFound
}

func (f *Fake) RemoveImage(ctx context.Context, imageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[imageID]
	if !ok {
		return ErrImageNotFound
	}
	delete(f.images, imageID)
	for tag, tagged := range f.ByTag {
		if tagged.ID == img.ID {
			delete(f.ByTag, tag)
		}
	}
	return nil
}

func (f *Fake) ListImagesByLabel(ctx context.Context, label, value string) ([]Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Image
	for _, img := range f.images {
		if img.Labels[label] == value {
			out = append(out, img)
		}
	}
	return out, nil
}

var _ CRA = (*Fake)(nil)
