package lock

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	tmpDir := t.TempDir()

	l, err := Acquire(tmpDir, "focosd")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// Verify lock file exists and records the holder.
	info, err := Holder(tmpDir)
	if err != nil {
		t.Fatalf("Holder() error = %v", err)
	}
	if info.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", info.PID, os.Getpid())
	}
	if info.Owner != "focosd" {
		t.Errorf("Owner = %q, want focosd", info.Owner)
	}
	if info.Since.IsZero() {
		t.Error("Since not recorded")
	}

	if err := l.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "LOCK")); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed on release, stat err = %v", err)
	}
}

func TestDoubleAcquireFails(t *testing.T) {
	tmpDir := t.TempDir()

	l1, err := Acquire(tmpDir, "first")
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(tmpDir, "second")
	if err == nil {
		t.Fatal("second Acquire() should fail")
	}

	var lockErr *LockHeldError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected LockHeldError, got %T: %v", err, err)
	}
	if lockErr.Owner != "first" {
		t.Errorf("Owner = %q, want first", lockErr.Owner)
	}
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	l, err := Acquire(t.TempDir(), "focosd")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("first Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}

func TestGuardSkipsOverlap(t *testing.T) {
	var g Guard
	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.TryRun(func() {
			close(started)
			<-release
		})
	}()

	<-started
	if !g.Running() {
		t.Error("Running() = false during guarded call")
	}
	if g.TryRun(func() { t.Error("overlapping call must not run") }) {
		t.Error("TryRun() = true while another run is in progress")
	}
	close(release)
	wg.Wait()

	ran := false
	if !g.TryRun(func() { ran = true }) || !ran {
		t.Error("TryRun() should run once the previous call finished")
	}
}

func TestParseHolder(t *testing.T) {
	info := parseHolder("pid=42\nowner=focosd\ntime=2026-01-02T03:04:05Z\n")
	if info.PID != 42 || info.Owner != "focosd" {
		t.Errorf("got %+v", info)
	}
	if !info.Since.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("Since = %v", info.Since)
	}
}
