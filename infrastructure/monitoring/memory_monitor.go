// Package monitoring reports process memory and warns on runaway growth.
package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	infralogger "github.com/jonesrussell/north-cloud/likechat/infrastructure/logger"
)

const bytesPerMB = 1024 * 1024

// MemoryMonitor compares heap and goroutine counts against a baseline taken
// after warmup.
type MemoryMonitor struct {
	mu                 sync.RWMutex
	baselineHeap       uint64
	baselineGoroutines int

	threshold     float64
	checkInterval time.Duration
	log           infralogger.Logger
}

// Snapshot is a point-in-time memory reading.
type Snapshot struct {
	Timestamp    time.Time `json:"timestamp"`
	HeapAllocMB  float64   `json:"heap_alloc_mb"`
	HeapInuseMB  float64   `json:"heap_inuse_mb"`
	StackInuseMB float64   `json:"stack_inuse_mb"`
	NumGC        uint32    `json:"num_gc"`
	NumGoroutine int       `json:"num_goroutine"`
	GOMaxProcs   int       `json:"gomaxprocs"`

	BaselineHeapMB     float64 `json:"baseline_heap_mb,omitempty"`
	BaselineGoroutines int     `json:"baseline_goroutines,omitempty"`

	heapAlloc uint64
}

// NewMemoryMonitor creates a monitor. threshold is a growth multiplier:
// 2.0 warns once the heap or goroutine count doubles.
func NewMemoryMonitor(threshold float64, checkInterval time.Duration, log infralogger.Logger) *MemoryMonitor {
	if log == nil {
		log = infralogger.NewNop()
	}
	return &MemoryMonitor{threshold: threshold, checkInterval: checkInterval, log: log}
}

// EstablishBaseline records the current heap and goroutine count.
func (m *MemoryMonitor) EstablishBaseline() {
	runtime.GC()
	snap := m.Snapshot()

	m.mu.Lock()
	m.baselineHeap = snap.heapAlloc
	m.baselineGoroutines = snap.NumGoroutine
	m.mu.Unlock()
}

// Snapshot reads the current memory state.
func (m *MemoryMonitor) Snapshot() Snapshot {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	snap := Snapshot{
		Timestamp:    time.Now().UTC(),
		HeapAllocMB:  float64(stats.Alloc) / bytesPerMB,
		HeapInuseMB:  float64(stats.HeapInuse) / bytesPerMB,
		StackInuseMB: float64(stats.StackInuse) / bytesPerMB,
		NumGC:        stats.NumGC,
		NumGoroutine: runtime.NumGoroutine(),
		GOMaxProcs:   runtime.GOMAXPROCS(0),
		heapAlloc:    stats.Alloc,
	}

	m.mu.RLock()
	snap.BaselineHeapMB = float64(m.baselineHeap) / bytesPerMB
	snap.BaselineGoroutines = m.baselineGoroutines
	m.mu.RUnlock()
	return snap
}

// CheckForLeaks reports growth past the threshold. It never reports before
// a baseline exists.
func (m *MemoryMonitor) CheckForLeaks() (leaked bool, report string) {
	m.mu.RLock()
	baselineHeap, baselineGoroutines := m.baselineHeap, m.baselineGoroutines
	m.mu.RUnlock()

	if baselineHeap == 0 || baselineGoroutines == 0 {
		return false, ""
	}

	snap := m.Snapshot()
	if growth := float64(snap.heapAlloc) / float64(baselineHeap); growth > m.threshold {
		return true, fmt.Sprintf("heap grew %.2fx (%.2f MB to %.2f MB)",
			growth, float64(baselineHeap)/bytesPerMB, snap.HeapAllocMB)
	}
	if growth := float64(snap.NumGoroutine) / float64(baselineGoroutines); growth > m.threshold {
		return true, fmt.Sprintf("goroutines grew %.2fx (%d to %d)",
			growth, baselineGoroutines, snap.NumGoroutine)
	}
	return false, ""
}

// Run checks for leaks every interval until ctx is done.
func (m *MemoryMonitor) Run(ctx context.Context) {
	if m.checkInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if leaked, report := m.CheckForLeaks(); leaked {
				m.log.Warn("Possible memory leak", infralogger.String("report", report))
			}
		}
	}
}
