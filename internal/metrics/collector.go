// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sync"
	"time"
)

// Operation names for the collector.
const (
	OpLLMGenerate  = "llm_generate"
	OpStoreRead    = "store_read"
	OpStoreWrite   = "store_write"
	OpArchiveWrite = "archive_write"
	OpSweep        = "sweep"
)

// OperationMetrics holds aggregated timings for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"totalTimeMs"`
	AvgTimeMs   float64 `json:"avgTimeMs"`
	MinTimeMs   int64   `json:"minTimeMs"`
	MaxTimeMs   int64   `json:"maxTimeMs"`
}

// ArchivalTotals are lifetime sweep outcome counters.
type ArchivalTotals struct {
	Archived int64 `json:"archived"`
	Skipped  int64 `json:"skipped"`
	Failed   int64 `json:"failed"`
}

// Snapshot represents the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptimeSeconds"`
	LLMGenerate   *OperationSnapshot `json:"llmGenerate,omitempty"`
	StoreRead     *OperationSnapshot `json:"storeRead,omitempty"`
	StoreWrite    *OperationSnapshot `json:"storeWrite,omitempty"`
	ArchiveWrite  *OperationSnapshot `json:"archiveWrite,omitempty"`
	Sweep         *OperationSnapshot `json:"sweep,omitempty"`
	Archival      ArchivalTotals     `json:"archival"`
}

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
	archival  ArchivalTotals
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{
			MinTime: time.Duration(math.MaxInt64),
		}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// AddArchival accumulates the outcome counts of one archival sweep.
func (c *Collector) AddArchival(archived, skipped, failed int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.archival.Archived += int64(archived)
	c.archival.Skipped += int64(skipped)
	c.archival.Failed += int64(failed)
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	return &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		LLMGenerate:   snapshotOp(c.ops[OpLLMGenerate]),
		StoreRead:     snapshotOp(c.ops[OpStoreRead]),
		StoreWrite:    snapshotOp(c.ops[OpStoreWrite]),
		ArchiveWrite:  snapshotOp(c.ops[OpArchiveWrite]),
		Sweep:         snapshotOp(c.ops[OpSweep]),
		Archival:      c.archival,
	}
}
