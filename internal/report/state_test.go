package report

import (
	"testing"
	"time"
)

func TestProgressFraction(t *testing.T) {
	s := NewState(3)
	s.BeginPass("tileset", 2, 100)
	s.AddProcessed(25)

	if got := s.Progress(); got != 0.25 {
		t.Errorf("Progress() = %v, want 0.25", got)
	}
}

func TestProgressZeroTotalIsZero(t *testing.T) {
	s := NewState(1)
	s.BeginPass("init", 1, 0)
	if got := s.Progress(); got != 0 {
		t.Errorf("Progress() = %v, want 0 for zero total", got)
	}
}

func TestBeginPassResetsProcessed(t *testing.T) {
	s := NewState(2)
	s.BeginPass("pass1", 1, 10)
	s.AddProcessed(10)
	if got := s.Progress(); got != 1 {
		t.Fatalf("Progress() = %v, want 1 after processing all", got)
	}

	s.BeginPass("pass2", 2, 20)
	if got := s.Progress(); got != 0 {
		t.Errorf("Progress() = %v, want 0 right after BeginPass", got)
	}
}

func TestMonitorStartStop(t *testing.T) {
	s := NewState(1)
	s.BeginPass("tileset", 1, 4)
	s.AddProcessed(2)

	m := StartMonitor(s, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	m.Stop()
}
