package lock

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

func TestLockImages_ConvergesImmediatelyWhenStable(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO pipeline_run_image_mappings").WillReturnResult(sqlmock.NewResult(1, 1))

	fake := cra.NewFake()
	fake.ByTag["orchest-env-proj-env1"] = cra.Image{ID: "sha256:aaa"}

	l := New(fake, zap.NewNop())
	var got map[string]string
	err := st.WithTx(context.Background(), func(tx *store.Tx) error {
		var err error
		got, err = l.LockImages(context.Background(), tx, st.ImageMappings, "run-1", "proj", []string{"env1"})
		return err
	})
	if err != nil {
		t.Fatalf("LockImages: %v", err)
	}
	if got["env1"] != "sha256:aaa" {
		t.Fatalf("unexpected mapping: %v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLockImages_MissingEnvironmentFailsWithImageNotFound(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	fake := cra.NewFake()
	l := New(fake, zap.NewNop())

	err := st.WithTx(context.Background(), func(tx *store.Tx) error {
		_, err := l.LockImages(context.Background(), tx, st.ImageMappings, "run-1", "proj", []string{"missing-env"})
		return err
	})
	if !errors.Is(err, ErrImageNotFound) {
		t.Fatalf("expected ErrImageNotFound, got %v", err)
	}
	_ = mock
}

func TestSameImageSet(t *testing.T) {
	a := map[string]string{"env1": "sha256:aaa", "env2": "sha256:bbb"}
	b := map[string]string{"env1": "sha256:aaa", "env2": "sha256:bbb"}
	if !sameImageSet(a, b) {
		t.Fatal("expected identical maps to compare equal")
	}

	c := map[string]string{"env1": "sha256:aaa", "env2": "sha256:ccc"}
	if sameImageSet(a, c) {
		t.Fatal("expected differing image sets to compare unequal")
	}

	// A swap across keys leaves the value set unchanged.
	swapped := map[string]string{"env1": "sha256:bbb", "env2": "sha256:aaa"}
	if !sameImageSet(a, swapped) {
		t.Fatal("expected a same-value-set swap to compare equal, per the set semantics of §4.4")
	}
}
