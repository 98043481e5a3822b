package train

import (
	"runtime"
	"sync"
	"time"
)

// MemTrace tracks heap usage across one training epoch: the level at entry,
// at exit, and the peak in between. The peak is sampled by a background
// goroutine since Go exposes no per-interval high-water mark.
type MemTrace struct {
	begin uint64
	end   uint64
	peak  uint64

	stop chan struct{}
	done sync.WaitGroup
}

// StartMemTrace snapshots the current heap level and begins peak sampling.
func StartMemTrace() *MemTrace {
	runtime.GC()
	t := &MemTrace{
		begin: heapInuse(),
		stop:  make(chan struct{}),
	}
	t.peak = t.begin

	t.done.Add(1)
	go func() {
		defer t.done.Done()
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				if h := heapInuse(); h > t.peak {
					t.peak = h
				}
			}
		}
	}()
	return t
}

// Stop ends sampling and records the final heap level.
func (t *MemTrace) Stop() {
	close(t.stop)
	t.done.Wait()
	t.end = heapInuse()
	if t.end > t.peak {
		t.peak = t.end
	}
}

// BeginMiB returns the heap level at trace start, in MiB.
func (t *MemTrace) BeginMiB() int { return bToMiB(t.begin) }

// UsedMiB returns the heap growth across the trace (end minus begin), in MiB.
func (t *MemTrace) UsedMiB() int {
	if t.end < t.begin {
		return -bToMiB(t.begin - t.end)
	}
	return bToMiB(t.end - t.begin)
}

// PeakedMiB returns the peak growth above the starting level, in MiB.
func (t *MemTrace) PeakedMiB() int { return bToMiB(t.peak - t.begin) }

// TotalPeakMiB returns the absolute peak heap level, in MiB.
func (t *MemTrace) TotalPeakMiB() int { return bToMiB(t.peak) }

func heapInuse() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapInuse
}

func bToMiB(b uint64) int {
	return int(b / (1 << 20))
}
