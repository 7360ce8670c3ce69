package taskbus

import (
	"context"
	"testing"
)

func TestFake_RevokeRemovesQueuedTask(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	task := Task{UUID: "t1", Type: BuildEnvironment}

	if err := f.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := f.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue (duplicate): %v", err)
	}
	if len(f.Queued) != 1 {
		t.Fatalf("Enqueue should be idempotent, got %d entries", len(f.Queued))
	}

	if err := f.Revoke(ctx, "t1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if len(f.Queued) != 0 {
		t.Fatalf("Revoke should remove the queued task, got %d entries", len(f.Queued))
	}

	if err := f.Abort(ctx, "t1"); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	aborted, err := f.Aborted(ctx, "t1")
	if err != nil {
		t.Fatalf("Aborted: %v", err)
	}
	if !aborted {
		t.Fatal("expected t1 to be flagged as aborted")
	}
}
