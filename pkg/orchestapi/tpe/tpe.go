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

// Package tpe implements the Two-Phase Executor: the orchestration
// primitive every controller operation that must touch both the state
// store and an external system (the task bus, the container runtime)
// is built from (§4.1).
package tpe

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/orchest/orchest-api/pkg/orchestapi/store"
)

// Op is one operation in a TPE batch. Transaction performs every SS
// read/write and returns a value threaded to Collateral and Revert.
// Collateral performs the external side effect and must be idempotent
// on retry. Revert only runs if a later operation's Transaction in the
// same batch fails; it undoes what this operation's Transaction did, in
// application terms (e.g. marking a row FAILURE), never by literally
// rolling back SS rows already committed by an earlier op in the batch.
type Op[V any] struct {
	Transaction func(tx *store.Tx) (V, error)
	Collateral  func(ctx context.Context, v V) error
	Revert      func(ctx context.Context, v V) error
}

// Executor runs batches of Op against one Store.
type Executor struct {
	store  *store.Store
	logger *zap.Logger
}

// New returns an Executor bound to st.
func New(st *store.Store, logger *zap.Logger) *Executor {
	return &Executor{store: st, logger: logger}
}

// Run executes ops as a single batch per §4.1: one SS transaction
// covering every Transaction phase, committed only if all succeed; then
// every Collateral in order, whose failures are logged but never roll
// back the commit. If any Transaction fails, the SS transaction is
// rolled back and every already-run operation's Revert fires in reverse
// order.
//
// Run returns the values produced by each op's Transaction, alongside
// the error (if any) that aborted the batch.
func Run[V any](ctx context.Context, ex *Executor, ops []Op[V]) ([]V, error) {
	values := make([]V, len(ops))
	ran := 0

	txErr := ex.store.WithTx(ctx, func(tx *store.Tx) error {
		for i, op := range ops {
			v, err := op.Transaction(tx)
			if err != nil {
				ran = i
				return fmt.Errorf("tpe: transaction %d: %w", i, err)
			}
			values[i] = v
			ran = i + 1
		}
		return nil
	})

	if txErr != nil {
		for i := ran - 1; i >= 0; i-- {
			if ops[i].Revert == nil {
				continue
			}
			if err := ops[i].Revert(ctx, values[i]); err != nil {
				ex.logger.Error("tpe: revert failed", zap.Int("op", i), zap.Error(err))
			}
		}
		return nil, txErr
	}

	for i, op := range ops {
		if op.Collateral == nil {
			continue
		}
		if err := op.Collateral(ctx, values[i]); err != nil {
			ex.logger.Error("tpe: collateral failed", zap.Int("op", i), zap.Error(err))
		}
	}

	return values, nil
}

// RunOne is Run for a single-operation batch, the common case for
// abort/delete style controller calls.
func RunOne[V any](ctx context.Context, ex *Executor, op Op[V]) (V, error) {
	values, err := Run(ctx, ex, []Op[V]{op})
	if err != nil {
		var zero V
		return zero, err
	}
	return values[0], nil
}
