package taskpool

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestAllTasksRun(t *testing.T) {
	p := New(4, 8)
	var count int64
	const n = 500
	for i := 0; i < n; i++ {
		p.AddTask(func() {
			atomic.AddInt64(&count, 1)
		})
	}
	p.WaitTillEmpty()
	p.Close()

	if got := atomic.LoadInt64(&count); got != n {
		t.Fatalf("count = %d, want %d", got, n)
	}
}

func TestWaitTillEmptyBlocksUntilDone(t *testing.T) {
	p := New(2, 4)
	var done int32
	p.AddTask(func() {
		time.Sleep(50 * time.Millisecond)
		atomic.StoreInt32(&done, 1)
	})
	p.WaitTillEmpty()
	if atomic.LoadInt32(&done) != 1 {
		t.Error("WaitTillEmpty returned before the task finished")
	}
	p.Close()
}

func TestBackPressureCapsConcurrency(t *testing.T) {
	p := New(2, 2)
	var concurrent, maxConcurrent int32
	const n = 20
	for i := 0; i < n; i++ {
		p.AddTask(func() {
			c := atomic.AddInt32(&concurrent, 1)
			for {
				m := atomic.LoadInt32(&maxConcurrent)
				if c <= m || atomic.CompareAndSwapInt32(&maxConcurrent, m, c) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&concurrent, -1)
		})
	}
	p.WaitTillEmpty()
	p.Close()

	if got := atomic.LoadInt32(&maxConcurrent); got > 2 {
		t.Errorf("observed %d concurrent tasks, want <= 2", got)
	}
}
