package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestInterval(t *testing.T) {
	from := time.Date(2024, 1, 1, 12, 0, 30, 0, time.UTC)

	tests := []struct {
		spec    string
		want    time.Duration
		wantErr bool
	}{
		{"* * * * *", time.Minute, false},
		{"*/15 * * * *", 15 * time.Minute, false},
		{"@every 30s", 30 * time.Second, false},
		{"not a schedule", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := Interval(tt.spec, from)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Interval(%q) err = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Interval(%q) = %s, want %s", tt.spec, got, tt.want)
			}
		})
	}
}

func TestRunnerRunsJobWithDeadline(t *testing.T) {
	var calls atomic.Int32
	var sawDeadline atomic.Bool

	r, err := New("@every 1s", func(ctx context.Context, now time.Time) {
		if _, ok := ctx.Deadline(); ok {
			sawDeadline.Store(true)
		}
		calls.Add(1)
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.Interval() != time.Second {
		t.Errorf("Interval() = %s", r.Interval())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if calls.Load() < 1 {
		t.Error("job never ran")
	}
	if !sawDeadline.Load() {
		t.Error("job context had no deadline")
	}
}

func TestNewRejectsNilJob(t *testing.T) {
	if _, err := New("* * * * *", nil); err == nil {
		t.Error("expected error")
	}
}
