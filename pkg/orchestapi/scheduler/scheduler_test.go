package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	v1 "github.com/orchest/orchest-api/pkg/orchestapi/apis/v1"
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

func TestClaim_FiresOnceWhenDue(t *testing.T) {
	st, mock := newTestStore(t)
	now := time.Now().UTC()
	past := now.Add(-2 * time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT type, timestamp FROM scheduler_jobs").
		WillReturnRows(sqlmock.NewRows([]string{"type", "timestamp"}).AddRow(string(v1.TelemetryHeartbeat), past))
	mock.ExpectExec("UPDATE scheduler_jobs SET timestamp").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := New(st, zap.NewNop(), time.Minute, RegisteredJob{Type: v1.TelemetryHeartbeat, Interval: time.Minute})
	fire, err := w.claim(context.Background(), w.jobs[0], now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !fire {
		t.Fatal("expected claim to fire when the row is older than interval-epsilon")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestClaim_DoesNotFireWhenTooRecent(t *testing.T) {
	st, mock := newTestStore(t)
	now := time.Now().UTC()
	recent := now.Add(-1 * time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT type, timestamp FROM scheduler_jobs").
		WillReturnRows(sqlmock.NewRows([]string{"type", "timestamp"}).AddRow(string(v1.TelemetryHeartbeat), recent))
	mock.ExpectCommit()

	w := New(st, zap.NewNop(), time.Minute, RegisteredJob{Type: v1.TelemetryHeartbeat, Interval: time.Minute})
	fire, err := w.claim(context.Background(), w.jobs[0], now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if fire {
		t.Fatal("expected claim not to fire when the row was updated within the interval")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
