package conversation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingSweeper struct {
	calls atomic.Int64
}

func (c *countingSweeper) Sweep(context.Context) (SweepResult, error) {
	c.calls.Add(1)
	return SweepResult{}, nil
}

func TestSchedulerFires(t *testing.T) {
	sw := &countingSweeper{}
	s := NewScheduler(sw, "@every 1s", nil)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(time.Second)

	deadline := time.Now().Add(3 * time.Second)
	for sw.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if sw.calls.Load() == 0 {
		t.Error("sweep never fired")
	}
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	s := NewScheduler(&countingSweeper{}, "not a schedule", nil)
	if err := s.Start(); err == nil {
		t.Error("Start() should reject an invalid schedule")
	}
}
