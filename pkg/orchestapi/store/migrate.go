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
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every forward-only SQL migration embedded under
// migrations/ that this schema hasn't already recorded, via goose's
// version-tracking table. Safe to call from every orchest-api replica at
// startup: goose.Provider.Up runs inside its own transaction per
// migration and records the applied version, so a replica that loses the
// race to apply a given migration simply finds it already recorded and
// moves on.
func Migrate(ctx context.Context, st *Store) error {
	provider, err := goose.NewProvider(goose.DialectPostgres, st.db.DB, migrationsFS)
	if err != nil {
		return fmt.Errorf("store: new migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("store: apply migrations: %w", err)
	}
	return nil
}
