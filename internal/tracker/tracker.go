package tracker

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/phillip-england/ccmetrics/internal/blobstore"
	"github.com/phillip-england/ccmetrics/internal/telemetry"
	"github.com/phillip-england/ccmetrics/internal/workbook"
	"go.uber.org/zap"
)

var Quarters = []string{"Q1", "Q2", "Q3", "Q4"}

// Service runs each operation against a fresh download of the workbook.
// Submissions re-upload the whole file. The mutex only orders submissions
// made through this process.
type Service struct {
	store   blobstore.Store
	metrics *telemetry.Metrics
	logger  *zap.Logger
	submit  sync.Mutex
}

func New(store blobstore.Store, metrics *telemetry.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, metrics: metrics, logger: logger.Named("tracker")}
}

type Overview struct {
	Categories   []string
	FiscalYears  []string
	MetricGroups map[string]string
}

type FormOptions struct {
	FiscalYears       []string
	Quarters          []string
	Categories        []string
	MetricsByCategory map[string][]string
}

func (s *Service) load(ctx context.Context) (*workbook.Workbook, error) {
	started := time.Now()
	data, err := s.store.Download(ctx)
	if err == nil {
		var wb *workbook.Workbook
		wb, err = workbook.Decode(s.store.Name(), data)
		if err == nil {
			if s.metrics != nil {
				s.metrics.ObserveLoad(started, len(data), nil)
			}
			s.logger.Debug("workbook loaded",
				zap.String("blob", s.store.Name()),
				zap.Int("bytes", len(data)),
				zap.Duration("elapsed", time.Since(started)))
			return wb, nil
		}
	}
	if s.metrics != nil {
		s.metrics.ObserveLoad(started, 0, err)
	}
	return nil, fmt.Errorf("load workbook: %w", err)
}

func (s *Service) save(ctx context.Context, wb *workbook.Workbook) error {
	started := time.Now()
	data, err := wb.Encode()
	if err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	if err := s.store.Upload(ctx, data); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ObserveSave(started, len(data))
	}
	s.logger.Info("workbook saved",
		zap.String("blob", s.store.Name()),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(started)))
	return nil
}

func (s *Service) withWorkbook(ctx context.Context, fn func(*workbook.Workbook) error) error {
	wb, err := s.load(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = wb.Close() }()
	return fn(wb)
}

func (s *Service) Catalog(ctx context.Context) (*workbook.Catalog, error) {
	var catalog *workbook.Catalog
	err := s.withWorkbook(ctx, func(wb *workbook.Workbook) error {
		var err error
		catalog, err = wb.Catalog()
		return err
	})
	return catalog, err
}

// FiscalYears falls back to the default year when the workbook cannot be read.
func (s *Service) FiscalYears(ctx context.Context) []string {
	var years []string
	err := s.withWorkbook(ctx, func(wb *workbook.Workbook) error {
		var err error
		years, err = wb.FiscalYears()
		return err
	})
	if err != nil {
		s.logger.Warn("fiscal years unavailable", zap.Error(err))
		return []string{workbook.DefaultFiscalYear}
	}
	return years
}

func (s *Service) catalogOrEmpty(ctx context.Context) *workbook.Catalog {
	catalog, err := s.Catalog(ctx)
	if err != nil {
		s.logger.Warn("metric catalog unavailable", zap.Error(err))
		return workbook.EmptyCatalog()
	}
	return catalog
}

func (s *Service) Overview(ctx context.Context) Overview {
	catalog := s.catalogOrEmpty(ctx)
	return Overview{
		Categories:   catalog.Categories,
		FiscalYears:  s.FiscalYears(ctx),
		MetricGroups: catalog.Groups,
	}
}

func (s *Service) FormOptions(ctx context.Context) FormOptions {
	catalog := s.catalogOrEmpty(ctx)
	return FormOptions{
		FiscalYears:       s.FiscalYears(ctx),
		Quarters:          Quarters,
		Categories:        catalog.Categories,
		MetricsByCategory: catalog.Metrics,
	}
}

func (s *Service) MetricGroups(ctx context.Context) (map[string]string, error) {
	catalog, err := s.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.Groups, nil
}

func (s *Service) MetricsByCategory(ctx context.Context, category string) ([]workbook.MetricInfo, error) {
	catalog, err := s.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.MetricsFor(category), nil
}

func (s *Service) Records(ctx context.Context) ([]workbook.Record, error) {
	var records []workbook.Record
	err := s.withWorkbook(ctx, func(wb *workbook.Workbook) error {
		var (
			skipped []workbook.SkippedRow
			err     error
		)
		records, skipped, err = wb.Records()
		s.logSkipped(skipped)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("metrics data processed", zap.Int("rows", len(records)))
	return records, nil
}

func (s *Service) Existing(ctx context.Context, key workbook.Key) ([]workbook.Record, error) {
	var records []workbook.Record
	err := s.withWorkbook(ctx, func(wb *workbook.Workbook) error {
		var (
			skipped []workbook.SkippedRow
			err     error
		)
		records, skipped, err = wb.RecordsFor(key)
		s.logSkipped(skipped)
		return err
	})
	return records, err
}

func (s *Service) Exists(ctx context.Context, key workbook.Key) (bool, error) {
	var exists bool
	err := s.withWorkbook(ctx, func(wb *workbook.Workbook) error {
		var err error
		exists, err = wb.Exists(key)
		return err
	})
	return exists, err
}

// Submit validates, merges and persists one form submission.
func (s *Service) Submit(ctx context.Context, sub workbook.Submission) (workbook.UpsertResult, error) {
	if err := sub.Validate(); err != nil {
		return workbook.UpsertResult{}, err
	}

	s.submit.Lock()
	defer s.submit.Unlock()

	var result workbook.UpsertResult
	err := s.withWorkbook(ctx, func(wb *workbook.Workbook) error {
		catalog, err := wb.Catalog()
		if err != nil {
			s.logger.Warn("metric catalog unavailable", zap.Error(err))
			catalog = workbook.EmptyCatalog()
		}
		sub.Entries = OrderEntries(catalog, sub.Category, sub.Entries)
		result, err = wb.Upsert(sub)
		if err != nil {
			return err
		}
		return s.save(ctx, wb)
	})
	if err != nil {
		return workbook.UpsertResult{}, err
	}

	if s.metrics != nil {
		s.metrics.ObserveUpsert(result.Added, result.Updated, result.Removed)
	}
	s.logger.Info("metrics submitted",
		zap.String("fiscal_year", sub.FiscalYear),
		zap.String("quarter", sub.Quarter),
		zap.String("category", sub.Category),
		zap.String("action", sub.Action),
		zap.Int("added", result.Added),
		zap.Int("updated", result.Updated),
		zap.Int("removed", result.Removed))
	return result, nil
}

func (s *Service) logSkipped(skipped []workbook.SkippedRow) {
	for _, row := range skipped {
		s.logger.Warn("skipping staging row", zap.Int("row", row.Line), zap.Error(row.Err))
	}
}

// OrderEntries puts entries in the category's catalog order. Metrics the
// catalog does not list follow, sorted by name.
func OrderEntries(catalog *workbook.Catalog, category string, entries []workbook.Entry) []workbook.Entry {
	rank := make(map[string]int)
	for i, m := range catalog.MetricsFor(strings.TrimSpace(category)) {
		rank[m.Name] = i
	}
	out := slices.Clone(entries)
	slices.SortStableFunc(out, func(a, b workbook.Entry) int {
		ra, okA := rank[strings.TrimSpace(a.Metric)]
		rb, okB := rank[strings.TrimSpace(b.Metric)]
		switch {
		case okA && okB:
			return ra - rb
		case okA:
			return -1
		case okB:
			return 1
		default:
			return strings.Compare(a.Metric, b.Metric)
		}
	})
	return out
}
