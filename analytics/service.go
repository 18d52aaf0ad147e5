package analytics

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
)

// Defaults for the tuning knobs. All of them are configuration, not
// invariants; config.Load overrides them from the environment.
const (
	DefaultRetentionDays    = 90
	DefaultRollupBufferDays = 1
	DefaultTopDays          = 7
	DefaultTopLimit         = 10
	MaxTopDays              = 365
	MaxTopLimit             = 20
)

// Service implements the analytics operations over a Store: record one
// click, rank guides, and run the authenticated rollup job.
type Service struct {
	store       *Store
	adminSecret string
	retention   int
	buffer      int

	// rollupMu serializes in-process rollup runs; the (day, guide_id)
	// primary key backstops concurrent runs from separate processes.
	rollupMu sync.Mutex
}

// NewService wires a Service. An empty adminSecret disables the rollup
// operation (it fails closed with ErrUnconfigured). Non-positive retention
// or buffer values fall back to the defaults.
func NewService(store *Store, adminSecret string, retentionDays, bufferDays int) *Service {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if bufferDays <= 0 {
		bufferDays = DefaultRollupBufferDays
	}
	return &Service{
		store:       store,
		adminSecret: adminSecret,
		retention:   retentionDays,
		buffer:      bufferDays,
	}
}

// Store exposes the underlying store for read-only admin queries.
func (s *Service) Store() *Store {
	return s.store
}

// Record validates one click submission and appends exactly one raw row.
// The order matches the site's original pipeline: truncate the user agent,
// filter bots, then validate the payload. The timestamp is always assigned
// server-side.
func (s *Service) Record(ctx context.Context, req ClickRequest, userAgent string, et EventType) error {
	userAgent = truncate(userAgent, MaxUserAgentLen)
	if IsBot(userAgent) {
		return &RejectError{Kind: ErrBotDetected, Reason: "bot_filtered"}
	}
	if err := ValidateRequest(&req, et); err != nil {
		return err
	}

	ev := &ClickEvent{
		GuideID:    req.GuideID,
		GuideTitle: req.GuideTitle,
		Href:       req.Href,
		EventType:  et,
		UserAgent:  userAgent,
		Timestamp:  s.store.Now(),
	}
	if err := s.store.InsertClick(ctx, ev); err != nil {
		return fmt.Errorf("%w: insert click: %v", ErrStorage, err)
	}
	return nil
}

// TopGuides ranks guides by clicks over the trailing window. Out-of-range
// days and limit are clamped, not rejected.
func (s *Service) TopGuides(ctx context.Context, days, limit int) ([]GuideCount, error) {
	days = clamp(days, 1, MaxTopDays)
	limit = clamp(limit, 1, MaxTopLimit)

	ranked, err := s.store.TopGuides(ctx, days, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: top guides: %v", ErrStorage, err)
	}
	return ranked, nil
}

// Rollup authenticates the caller and runs the aggregate-then-purge job.
// A missing server-side secret is ErrUnconfigured (operational error); a
// caller mismatch is ErrUnauthorized. Neither touches the database.
func (s *Service) Rollup(ctx context.Context, callerSecret string) (RollupResult, error) {
	if s.adminSecret == "" {
		return RollupResult{}, ErrUnconfigured
	}
	if subtle.ConstantTimeCompare([]byte(callerSecret), []byte(s.adminSecret)) != 1 {
		return RollupResult{}, ErrUnauthorized
	}

	s.rollupMu.Lock()
	defer s.rollupMu.Unlock()

	result, err := s.store.Rollup(ctx, s.buffer, s.retention)
	if err != nil {
		return RollupResult{}, fmt.Errorf("%w: rollup: %v", ErrStorage, err)
	}
	return result, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
