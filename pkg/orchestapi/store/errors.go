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

import "errors"

// ErrNotFound is returned by a Get when no row matches the given key.
var ErrNotFound = errors.New("store: resource not found")

// ErrConflict is returned when a unique constraint would be violated, or
// when a caller tries to create a resource that already exists under its
// key.
var ErrConflict = errors.New("store: conflicting resource")

// ErrNotUpdated is returned by a status transition update when the
// targeted row exists but its current status is no longer in
// {PENDING, STARTED} (invariant I5): the row was not changed, but that is
// not an error condition callers should treat as failure, only as a
// no-op. Controllers check this with errors.Is and translate it into
// "0 rows changed" rather than surfacing a 500.
var ErrNotUpdated = errors.New("store: row not in an updatable status")
