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

import "errors"

// ErrImageNotFound is returned by Inspect/Remove when the image or
// container a caller asked about doesn't exist. Callers distinguish this
// from transport errors: lock_images (pkg/lock) fails hard on it, while
// the garbage collector treats it as a no-op (§7).
var ErrImageNotFound = errors.New("cra: image not found")

// ErrContainerNotFound is returned by Stop/Inspect when a container
// referenced by name no longer exists, mirroring Python's
// errors.NotFound short circuit in jupyter session teardown.
var ErrContainerNotFound = errors.New("cra: container not found")
