// Package scheduler sweeps the conversation store and archives conversations
// before their ephemeral keys expire.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parleychat/parley/internal/metrics"
	"github.com/parleychat/parley/internal/models"
	"github.com/parleychat/parley/internal/store"
)

// ConversationSource is the view of the ephemeral store the scheduler needs.
// *store.Store satisfies it; tests use in-memory fakes.
type ConversationSource interface {
	ScanConversations(ctx context.Context) ([]string, error)
	RemainingTTL(ctx context.Context, conversationID string) (time.Duration, error)
	Get(ctx context.Context, conversationID string) (*models.Conversation, error)
	IsArchived(ctx context.Context, conversationID string) (bool, error)
	MarkArchived(ctx context.Context, conversationID string, ttl time.Duration) error
	Ping(ctx context.Context) error
	Counts(ctx context.Context) (live, markers int, err error)
}

// Archiver persists a conversation durably, exactly once per id.
type Archiver interface {
	Archive(ctx context.Context, conv *models.Conversation) error
}

// Config holds scheduler settings.
type Config struct {
	// Interval between sweeps, wall-clock triggered.
	Interval time.Duration

	// Threshold is the remaining-TTL cutoff at or below which a live
	// conversation becomes an archive candidate.
	Threshold time.Duration
}

// TickStats summarizes one sweep.
type TickStats struct {
	Checked  int `json:"checked"`
	Archived int `json:"archived"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Status describes the scheduler's configuration and run state.
type Status struct {
	Running   bool          `json:"running"`
	Interval  time.Duration `json:"interval"`
	Threshold time.Duration `json:"threshold"`
}

// Health is the scheduler's view of the system for health endpoints.
type Health struct {
	SchedulerRunning    bool `json:"schedulerRunning"`
	StoreConnected      bool `json:"storeConnected"`
	ActiveConversations int  `json:"activeConversations"`
	ArchivedMarkers     int  `json:"archivedMarkers"`
}

// Scheduler owns the sweep timer. It is an explicit component instance with
// Start/Stop lifecycle, constructed by the composition root; multiple
// independent instances can coexist in one process (tests rely on this).
type Scheduler struct {
	cfg     Config
	source  ConversationSource
	sink    Archiver
	logger  *slog.Logger
	stats   *metrics.Collector

	mu      sync.Mutex
	running bool
	stop    chan struct{}

	// sweeping guards against overlapping ticks when a sweep outlives the
	// interval; the late tick becomes a no-op.
	sweeping atomic.Bool
}

// New creates a scheduler. The metrics collector may be nil.
func New(cfg Config, source ConversationSource, sink Archiver, stats *metrics.Collector, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:    cfg,
		source: source,
		sink:   sink,
		logger: logger,
		stats:  stats,
	}
}

// Start launches the sweep loop. Idempotent: starting a running scheduler is
// a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn("archival scheduler already running")
		return
	}

	s.stop = make(chan struct{})
	s.running = true

	s.logger.Info("starting archival scheduler",
		"interval", s.cfg.Interval,
		"threshold", s.cfg.Threshold)

	go s.loop(s.stop)
}

// Stop ends the timer source. It does not wait for an in-flight sweep; the
// sweep finishes naturally on its own goroutine with no new ticks scheduled.
// Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	close(s.stop)
	s.running = false
	s.logger.Info("archival scheduler stopped")
}

// Status reports run state and configuration.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:   s.running,
		Interval:  s.cfg.Interval,
		Threshold: s.cfg.Threshold,
	}
}

// HealthCheck reports store reachability and key counts alongside run state.
func (s *Scheduler) HealthCheck(ctx context.Context) Health {
	h := Health{SchedulerRunning: s.Status().Running}

	if err := s.source.Ping(ctx); err != nil {
		s.logger.Error("health check: store unreachable", "error", err)
		return h
	}
	h.StoreConnected = true

	live, markers, err := s.source.Counts(ctx)
	if err != nil {
		s.logger.Error("health check: counting keys failed", "error", err)
		return h
	}
	h.ActiveConversations = live
	h.ArchivedMarkers = markers
	return h
}

func (s *Scheduler) loop(stop chan struct{}) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	if !s.sweeping.CompareAndSwap(false, true) {
		s.logger.Warn("previous sweep still in flight, skipping tick")
		return
	}
	defer s.sweeping.Store(false)

	ctx := context.Background()
	s.RunOnce(ctx)
}

// RunOnce performs a single sweep: scan live conversation keys, archive the
// ones within the threshold that carry no marker, mark them with the key's
// actual remaining TTL. Per-key failures are logged and counted without
// aborting the sweep. Also the manual trigger behind the admin surface.
func (s *Scheduler) RunOnce(ctx context.Context) TickStats {
	start := time.Now()
	var stats TickStats

	ids, err := s.source.ScanConversations(ctx)
	if err != nil {
		s.logger.Error("sweep: scanning conversations failed", "error", err)
		return stats
	}

	for _, id := range ids {
		stats.Checked++
		outcome, err := s.evaluate(ctx, id)
		switch {
		case err != nil:
			stats.Failed++
			s.logger.Error("sweep: conversation not archived", "conversation_id", id, "error", err)
		case outcome == outcomeArchived:
			stats.Archived++
		case outcome == outcomeAlreadyMarked:
			stats.Skipped++
		}
	}

	if s.stats != nil {
		s.stats.RecordTiming(metrics.OpSweep, time.Since(start))
		s.stats.AddArchival(stats.Archived, stats.Skipped, stats.Failed)
	}

	if stats.Archived > 0 || stats.Failed > 0 {
		s.logger.Info("archival sweep completed",
			"checked", stats.Checked,
			"archived", stats.Archived,
			"skipped", stats.Skipped,
			"failed", stats.Failed,
			"duration_ms", time.Since(start).Milliseconds())
	}

	return stats
}

type evalOutcome int

const (
	outcomeLeftAlone evalOutcome = iota
	outcomeArchived
	outcomeAlreadyMarked
)

// evaluate runs the per-key state machine: read remaining TTL, gate on the
// threshold, check the marker, archive, mark.
func (s *Scheduler) evaluate(ctx context.Context, id string) (evalOutcome, error) {
	ttl, err := s.source.RemainingTTL(ctx, id)
	if errors.Is(err, store.ErrConversationNotFound) {
		// Expired between scan and evaluate; nothing to do.
		return outcomeLeftAlone, nil
	}
	if err != nil {
		return outcomeLeftAlone, err
	}
	if ttl < 0 {
		// No expiry on the key. Conversations always carry a TTL by
		// construction, so this branch is defensive only.
		return outcomeLeftAlone, nil
	}
	if ttl > s.cfg.Threshold {
		return outcomeLeftAlone, nil
	}

	marked, err := s.source.IsArchived(ctx, id)
	if err != nil {
		return outcomeLeftAlone, err
	}
	if marked {
		return outcomeAlreadyMarked, nil
	}

	conv, err := s.source.Get(ctx, id)
	if errors.Is(err, store.ErrConversationNotFound) {
		return outcomeLeftAlone, nil
	}
	if err != nil {
		return outcomeLeftAlone, err
	}

	if err := s.sink.Archive(ctx, conv); err != nil {
		return outcomeLeftAlone, fmt.Errorf("archive: %w", err)
	}

	// Marker TTL is the key's remaining TTL at this instant, not the
	// threshold, so marker and document co-expire.
	markerTTL, err := s.source.RemainingTTL(ctx, id)
	if err != nil || markerTTL <= 0 {
		// Key vanished right after archiving; the durable record exists and
		// nothing is left to mark.
		return outcomeArchived, nil
	}
	if err := s.source.MarkArchived(ctx, id, markerTTL); err != nil {
		return outcomeArchived, err
	}

	s.logger.Debug("conversation archived",
		"conversation_id", id,
		"ttl_remaining", markerTTL)
	return outcomeArchived, nil
}
