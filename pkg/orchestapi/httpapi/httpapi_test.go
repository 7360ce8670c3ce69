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

package httpapi

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/orchest/orchest-api/pkg/orchestapi/controllers"
	"github.com/orchest/orchest-api/pkg/orchestapi/cra"
	"github.com/orchest/orchest-api/pkg/orchestapi/store"
	"github.com/orchest/orchest-api/pkg/orchestapi/taskbus"
	"github.com/orchest/orchest-api/pkg/orchestapi/tpe"
)

// newTestServer returns a Server wired against a sqlmock-backed Store
// and fake downstream adapters, the same harness the controllers package
// tests already use, one level up through the HTTP facade.
func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.New(sqlx.NewDb(db, "sqlmock"), zap.NewNop())
	ex := tpe.New(st, zap.NewNop())
	tb := taskbus.NewFake()
	runtime := cra.NewFake()

	s := &Server{
		EnvironmentBuilds: controllers.NewEnvironmentBuildController(st, ex, tb, runtime, zap.NewNop()),
		Logger:            zap.NewNop(),
	}
	return s, mock
}
