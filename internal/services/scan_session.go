package services

import (
	"context"
	"sync"

	"github.com/scanlog/server/internal/models"
	"github.com/scanlog/server/internal/observability"
)

// ScanSession is the inbound side of the scanner: it gates input, records
// scans in the tally and feeds recorded scans to the recent list.
type ScanSession struct {
	store   *TallyStore
	recent  *RecentEvents
	metrics *observability.TallyMetrics
	logger  *observability.Logger

	mu          sync.RWMutex
	scanEnabled bool
}

// NewScanSession creates a session that accepts input
func NewScanSession(store *TallyStore, recent *RecentEvents) *ScanSession {
	return &ScanSession{
		store:       store,
		recent:      recent,
		metrics:     store.metrics,
		logger:      store.logger.With("component", "scan_session"),
		scanEnabled: true,
	}
}

// SetScanEnabled opens or closes the input gate
func (s *ScanSession) SetScanEnabled(enabled bool) {
	s.mu.Lock()
	s.scanEnabled = enabled
	s.mu.Unlock()
	s.logger.Info("scan input gate changed", "enabled", enabled)
}

// ScanEnabled reports whether input is accepted
func (s *ScanSession) ScanEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanEnabled
}

// OnScanInput handles one decoded barcode at the store clock's time
func (s *ScanSession) OnScanInput(ctx context.Context, raw string) (models.RecordResult, error) {
	now := s.store.Now()
	if !s.ScanEnabled() {
		s.metrics.RecordScan(ctx, string(models.OutcomeInactive))
		return models.NotRecordedResult(models.OutcomeInactive, Normalize(raw), s.store.DayKey(now)), nil
	}

	result, err := s.store.RecordScan(ctx, raw, now)
	if err != nil {
		return result, err
	}

	if result.Recorded && result.CountAfter != nil {
		s.recent.Push(models.NewScanEvent(result.Code, *result.CountAfter, now))
	}
	return result, nil
}

// Undo reverses the last scan of today. The recent list keeps the event.
func (s *ScanSession) Undo(ctx context.Context) (models.UndoResult, error) {
	return s.store.UndoLast(ctx, s.store.Now())
}

// Recent returns the recent events, newest first
func (s *ScanSession) Recent() []models.ScanEvent {
	return s.recent.Snapshot()
}

// RecentEvents returns the underlying buffer
func (s *ScanSession) RecentEvents() *RecentEvents {
	return s.recent
}

// Store returns the tally store
func (s *ScanSession) Store() *TallyStore {
	return s.store
}
