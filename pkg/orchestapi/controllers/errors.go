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

// Package controllers implements the Lifecycle Controllers (§4.2): one
// per resource kind, each composing TPE, the Resource Locker, the
// State Store, the Task Bus and the CRA behind create/abort/delete
// operations.
package controllers

import "errors"

// ErrConflict means the requested transition is not legal from the
// resource's current state (e.g. aborting an already-terminal build).
var ErrConflict = errors.New("controllers: conflict")

// ErrSessionInProgress is returned by JupyterBuild.Create when an
// InteractiveSession is active, per invariant I2.
var ErrSessionInProgress = errors.New("controllers: session in progress")

// ErrNotFound is returned when a controller operation targets a uuid
// that does not exist.
var ErrNotFound = errors.New("controllers: not found")
