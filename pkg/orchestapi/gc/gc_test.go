package gc

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/orchest/orchest-api/pkg/orchestapi/cra"
	"github.com/orchest/orchest-api/pkg/orchestapi/store"
)

func newTestStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return store.New(sqlxDB, zap.NewNop()), mock
}

func TestSweepProject_RemovesOnlyUnreferencedDanglingImages(t *testing.T) {
	st, mock := newTestStore(t)
	runtime := cra.NewFake()

	runtime.SeedImage(cra.Image{
		ID:   "sha256:dangling",
		Tags: nil,
		Labels: map[string]string{
			cra.LabelProjectUUID:          "p1",
			cra.LabelEnvBuildIntermediate: "0",
		},
	})
	runtime.SeedImage(cra.Image{
		ID:   "sha256:referenced",
		Tags: nil,
		Labels: map[string]string{
			cra.LabelProjectUUID:          "p1",
			cra.LabelEnvBuildIntermediate: "0",
		},
	})
	runtime.SeedImage(cra.Image{
		ID:   "sha256:tagged",
		Tags: []string{"orchest-env-p1-e2"},
		Labels: map[string]string{
			cra.LabelProjectUUID:          "p1",
			cra.LabelEnvBuildIntermediate: "0",
		},
	})

	// SweepProject iterates images in map order, which Go does not
	// guarantee, so the two EXISTS checks can arrive in either order.
	mock.MatchExpectationsInOrder(false)
	mock.ExpectQuery("SELECT EXISTS").WithArgs("sha256:dangling").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("sha256:referenced").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	collector, err := New(runtime, st.Runs, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := collector.SweepProject(context.Background(), "p1"); err != nil {
		t.Fatalf("SweepProject: %v", err)
	}

	if _, err := runtime.InspectImage(context.Background(), "sha256:dangling"); !errors.Is(err, cra.ErrImageNotFound) {
		t.Fatal("expected the dangling, unreferenced image to have been removed")
	}
	if _, err := runtime.InspectImage(context.Background(), "sha256:referenced"); err != nil {
		t.Fatalf("expected the referenced image to remain, got error: %v", err)
	}
	if _, err := runtime.InspectImage(context.Background(), "sha256:tagged"); err != nil {
		t.Fatalf("expected the tagged image to remain, got error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
