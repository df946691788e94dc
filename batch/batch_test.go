package batch

import (
	"context"
	"errors"
	"testing"
)

func TestRunAggregatesOutcomes(t *testing.T) {
	jobs := []Job{
		{Name: "ok1", Run: func(ctx context.Context) error {
			Wrote(ctx, 100)
			return nil
		}},
		{Name: "ok2", Run: func(ctx context.Context) error {
			Wrote(ctx, 50)
			return nil
		}},
		{Name: "skip", Run: func(ctx context.Context) error {
			Skip(ctx)
			return nil
		}},
		{Name: "fail", Run: func(ctx context.Context) error {
			return errors.New("boom")
		}},
	}

	r := NewRunner(2)
	stats := r.Run(context.Background(), jobs)
	snap := stats.Snapshot()

	if snap.Extracted != 2 {
		t.Fatalf("Extracted = %d, want 2", snap.Extracted)
	}
	if snap.Skipped != 1 {
		t.Fatalf("Skipped = %d, want 1", snap.Skipped)
	}
	if snap.Failed != 1 {
		t.Fatalf("Failed = %d, want 1", snap.Failed)
	}
	if snap.Bytes != 150 {
		t.Fatalf("Bytes = %d, want 150", snap.Bytes)
	}
	if len(stats.Errors) != 1 {
		t.Fatalf("got %d errors, want 1", len(stats.Errors))
	}
}

func TestRunEmptyJobList(t *testing.T) {
	r := NewRunner(4)
	stats := r.Run(context.Background(), nil)
	snap := stats.Snapshot()
	if snap.Extracted != 0 || snap.Failed != 0 || snap.Skipped != 0 {
		t.Fatal("expected all-zero stats for an empty job list")
	}
}

func TestNewRunnerClampsWorkerCount(t *testing.T) {
	r := NewRunner(0)
	if r.Workers != 1 {
		t.Fatalf("Workers = %d, want 1", r.Workers)
	}
	r = NewRunner(-5)
	if r.Workers != 1 {
		t.Fatalf("Workers = %d, want 1", r.Workers)
	}
}
