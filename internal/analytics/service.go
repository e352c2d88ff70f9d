package analytics

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/roach88/skinscan/internal/scan"
	"github.com/roach88/skinscan/internal/store"
)

// PageResult is one page of a user's history, newest first.
type PageResult struct {
	Items      []scan.Record `json:"data"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	TotalPages int           `json:"total_pages"`
}

// Service runs history and stats queries against a record store.
//
// Thread-safety: Service holds no mutable state and is safe for concurrent
// use as long as the underlying Reader is.
type Service struct {
	records store.Reader
	loc     *time.Location
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLocation sets the zone used for calendar dates and weekdays.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithLogger sets the service's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a Service over r.
func NewService(r store.Reader, opts ...Option) *Service {
	s := &Service{
		records: r,
		loc:     time.UTC,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Page returns the page-th window of limit records for userID.
//
// page is 1-indexed. page <= 0 or limit <= 0 is a scan.KindInvalidInput
// error; values are never clamped. A page past the end has no items but
// still reports the correct Total.
func (s *Service) Page(ctx context.Context, userID string, page, limit int) (PageResult, error) {
	const op = "history.page"

	if page <= 0 {
		return PageResult{}, scan.Errorf(scan.KindInvalidInput, op, "page must be >= 1, got %d", page)
	}
	if limit <= 0 {
		return PageResult{}, scan.Errorf(scan.KindInvalidInput, op, "limit must be >= 1, got %d", limit)
	}

	total, err := s.records.CountByUser(ctx, userID)
	if err != nil {
		return PageResult{}, scan.E(scan.KindStorage, op, err)
	}

	res := PageResult{
		Items:      []scan.Record{},
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: total / limit,
	}
	if total%limit != 0 {
		res.TotalPages++
	}

	// (page-1)*limit past the record count, or past int range, is an empty page.
	if page-1 > (math.MaxInt-1)/limit || (page-1)*limit >= total {
		return res, nil
	}

	items, err := s.records.FindPage(ctx, userID, (page-1)*limit, limit)
	if err != nil {
		return PageResult{}, scan.E(scan.KindStorage, op, err)
	}
	res.Items = items

	s.logger.Debug("history page",
		"user", userID,
		"page", page,
		"limit", limit,
		"items", len(items),
		"total", total)
	return res, nil
}

// ConditionFrequency returns DailyConditionFrequency over userID's records.
func (s *Service) ConditionFrequency(ctx context.Context, userID string) ([]DailyCount, error) {
	recs, err := s.load(ctx, "stats.condition-frequency", userID)
	if err != nil {
		return nil, err
	}
	return DailyConditionFrequency(recs, s.loc), nil
}

// ConditionDistribution returns ConditionDistribution over userID's records.
func (s *Service) ConditionDistribution(ctx context.Context, userID string) ([]ConditionCount, error) {
	recs, err := s.load(ctx, "stats.condition-distribution", userID)
	if err != nil {
		return nil, err
	}
	return ConditionDistribution(recs), nil
}

// ScanFrequencyByDay returns WeekdayFrequency over userID's records.
func (s *Service) ScanFrequencyByDay(ctx context.Context, userID string) ([]WeekdayCount, error) {
	recs, err := s.load(ctx, "stats.scan-frequency-by-day", userID)
	if err != nil {
		return nil, err
	}
	return WeekdayFrequency(recs, s.loc), nil
}

// ConditionByConfidence returns ConfidencePivot over userID's records.
func (s *Service) ConditionByConfidence(ctx context.Context, userID string) ([]PivotRow, error) {
	recs, err := s.load(ctx, "stats.condition-by-confidence", userID)
	if err != nil {
		return nil, err
	}
	rows, err := ConfidencePivot(recs)
	if err != nil {
		s.logger.Error("confidence pivot hit out-of-range record", "user", userID, "error", err)
		return nil, err
	}
	return rows, nil
}

// Stat names accepted by Stats, matching the /stats/{userId}/{kind} routes.
const (
	StatConditionFrequency    = "condition-frequency"
	StatConditionDistribution = "condition-distribution"
	StatScanFrequencyByDay    = "scan-frequency-by-day"
	StatConditionByConfidence = "condition-by-confidence"
)

// StatKinds lists the stat names in route order.
var StatKinds = []string{
	StatConditionFrequency,
	StatConditionDistribution,
	StatScanFrequencyByDay,
	StatConditionByConfidence,
}

// Stats dispatches to the aggregation named by kind. An unknown kind is a
// scan.KindNotFound error.
func (s *Service) Stats(ctx context.Context, userID, kind string) (any, error) {
	switch kind {
	case StatConditionFrequency:
		return s.ConditionFrequency(ctx, userID)
	case StatConditionDistribution:
		return s.ConditionDistribution(ctx, userID)
	case StatScanFrequencyByDay:
		return s.ScanFrequencyByDay(ctx, userID)
	case StatConditionByConfidence:
		return s.ConditionByConfidence(ctx, userID)
	default:
		return nil, scan.Errorf(scan.KindNotFound, "stats", "unknown stat %q", kind)
	}
}

func (s *Service) load(ctx context.Context, op, userID string) ([]scan.Record, error) {
	recs, err := s.records.FindByUser(ctx, userID)
	if err != nil {
		return nil, scan.E(scan.KindStorage, op, err)
	}
	return recs, nil
}
