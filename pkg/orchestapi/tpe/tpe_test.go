package tpe

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

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

func TestRun_CommitsThenRunsCollateralInOrder(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	var collateralOrder []int
	ops := []Op[int]{
		{
			Transaction: func(tx *store.Tx) (int, error) { return 1, nil },
			Collateral:  func(ctx context.Context, v int) error { collateralOrder = append(collateralOrder, v); return nil },
		},
		{
			Transaction: func(tx *store.Tx) (int, error) { return 2, nil },
			Collateral:  func(ctx context.Context, v int) error { collateralOrder = append(collateralOrder, v); return nil },
		},
	}

	ex := New(st, zap.NewNop())
	values, err := Run(context.Background(), ex, ops)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(values) != 2 || values[0] != 1 || values[1] != 2 {
		t.Fatalf("unexpected values: %v", values)
	}
	if len(collateralOrder) != 2 || collateralOrder[0] != 1 || collateralOrder[1] != 2 {
		t.Fatalf("collateral did not run in order: %v", collateralOrder)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRun_TransactionFailureRollsBackAndRevertsInReverseOrder(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	var revertOrder []int
	wantErr := errors.New("boom")
	ops := []Op[int]{
		{
			Transaction: func(tx *store.Tx) (int, error) { return 1, nil },
			Revert:      func(ctx context.Context, v int) error { revertOrder = append(revertOrder, v); return nil },
		},
		{
			Transaction: func(tx *store.Tx) (int, error) { return 0, wantErr },
			Revert:      func(ctx context.Context, v int) error { revertOrder = append(revertOrder, v); return nil },
		},
	}

	ex := New(st, zap.NewNop())
	_, err := Run(context.Background(), ex, ops)
	if err == nil {
		t.Fatal("expected an error")
	}
	if len(revertOrder) != 1 || revertOrder[0] != 1 {
		t.Fatalf("expected only the first op's Revert to run, got %v", revertOrder)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRun_CollateralFailureDoesNotRollBackCommit(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	ops := []Op[int]{
		{
			Transaction: func(tx *store.Tx) (int, error) { return 1, nil },
			Collateral:  func(ctx context.Context, v int) error { return errors.New("collateral down") },
		},
	}

	ex := New(st, zap.NewNop())
	_, err := Run(context.Background(), ex, ops)
	if err != nil {
		t.Fatalf("collateral failure must not surface as a batch error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
