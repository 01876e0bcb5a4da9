// Package report tracks pass/progress/resource counters across the
// pipeline's passes and prints a periodic status line, grounded on the
// original program's State struct (state.h) and its Monitor thread
// (main.cpp's startMonitoring), restructured around atomics and the
// standard log package in place of a raw mutex-guarded struct and
// std::cout, matching the teacher's internal/tile/progress.go refresh-
// loop shape and internal/tile/memlimit.go's RAM reporting.
package report

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"
)

// State holds the lifecycle counters shared between the running pipeline
// and the Monitor that prints them, mirroring state.h's State struct.
// NumPasses/CurrentPass starts counting passes at 1, per the original's
// "starts with index 1! interval: [1, numPasses]" comment.
type State struct {
	NumPasses   int
	CurrentPass int32

	tilesTotal     int64
	tilesProcessed int64
	cacheSize      int64
	nameBox        atomic.Value // string
}

// NewState returns a State with zeroed counters.
func NewState(numPasses int) *State {
	s := &State{NumPasses: numPasses}
	s.nameBox.Store("")
	return s
}

// BeginPass resets the per-pass counters and records the pass's name and
// index, matching how main.cpp's tileset()/makelod() reset state.name,
// state.currentPass, state.tilesTotal, state.tilesProcessed at pass start.
func (s *State) BeginPass(name string, passIndex int, tilesTotal int64) {
	s.nameBox.Store(name)
	atomic.StoreInt32(&s.CurrentPass, int32(passIndex))
	atomic.StoreInt64(&s.tilesTotal, tilesTotal)
	atomic.StoreInt64(&s.tilesProcessed, 0)
}

// AddProcessed adds delta to the processed-tile counter for the current pass.
func (s *State) AddProcessed(delta int64) {
	atomic.AddInt64(&s.tilesProcessed, delta)
}

// SetCacheSize records the block cache's current occupancy.
func (s *State) SetCacheSize(n int64) {
	atomic.StoreInt64(&s.cacheSize, n)
}

// Progress returns the current pass's completion fraction in [0,1].
func (s *State) Progress() float64 {
	total := atomic.LoadInt64(&s.tilesTotal)
	if total == 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&s.tilesProcessed)) / float64(total)
}

// passName returns the current pass's name.
func (s *State) passName() string {
	v, _ := s.nameBox.Load().(string)
	return v
}

// Monitor periodically logs the pipeline's aggregate progress, matching
// main.cpp's startMonitoring goroutine: total-progress percentage
// (current pass's fraction blended across NumPasses), time elapsed since
// the monitor started, tiles/sec throughput, total system RAM, and block
// cache occupancy.
type Monitor struct {
	state    *State
	interval time.Duration
	start    time.Time
	stop     chan struct{}
	done     chan struct{}
}

// StartMonitor begins a Monitor over state, printing a status line every
// interval until Stop is called.
func StartMonitor(state *State, interval time.Duration) *Monitor {
	m := &Monitor{
		state:    state,
		interval: interval,
		start:    time.Now(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Monitor) run() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.report()
		}
	}
}

func (m *Monitor) report() {
	s := m.state
	passProgress := 100.0 * s.Progress()
	currentPass := atomic.LoadInt32(&s.CurrentPass)
	totalProgress := 100.0 * (float64(currentPass-1) + s.Progress()) / float64(s.NumPasses)

	elapsed := time.Since(m.start)
	processed := atomic.LoadInt64(&s.tilesProcessed)
	var throughput float64
	if secs := elapsed.Seconds(); secs > 0 {
		throughput = float64(processed) / secs
	}

	ramLine := ""
	if totalRAM, err := totalSystemRAM(); err == nil {
		ramLine = fmt.Sprintf(" [RAM total: %.1fGB]", float64(totalRAM)/(1024*1024*1024))
	}

	log.Printf("[%.1f%% total, %s] [%s: %.1f%%, tilesProcessed: %d, %.0f tiles/s]%s [cacheSize: %d]",
		totalProgress, elapsed.Truncate(time.Second), s.passName(), passProgress, processed, throughput,
		ramLine, atomic.LoadInt64(&s.cacheSize))
}

// Stop halts the Monitor's refresh loop and waits for it to exit,
// matching Monitor::stop's thread join.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}
