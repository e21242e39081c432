package order

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/aevon-lab/orderlens/internal/core/period"
	"github.com/aevon-lab/orderlens/internal/core/source"
	"github.com/aevon-lab/orderlens/internal/core/telemetry"
	"github.com/aevon-lab/orderlens/internal/fetch"
	"github.com/aevon-lab/orderlens/internal/manifest"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 8

// Outcome is the result of loading one monthly partition: either Loaded or Failed.
type Outcome interface {
	isOutcome()
}

// Loaded carries the normalized rows of a partition.
type Loaded struct {
	Month period.YearMonth
	Path  string
	Rows  []LineItem
}

// Failed carries the fetch or parse error of a partition.
type Failed struct {
	Month period.YearMonth
	Path  string
	Err   error
}

func (Loaded) isOutcome() {}
func (Failed) isOutcome() {}

// Present describes a partition that loaded.
type Present struct {
	Month    period.YearMonth `json:"month"`
	Path     string           `json:"path"`
	RowCount int              `json:"row_count"`
}

// Missing describes a partition that failed to load. Err is kept for callers
// that want to inspect it; Error is its message for serialization.
type Missing struct {
	Month period.YearMonth `json:"month"`
	Path  string           `json:"path,omitempty"`
	Err   error            `json:"-"`
	Error string           `json:"error"`
}

// RangeResult is the combined outcome of a month range load.
// Rows are concatenated in month order.
type RangeResult struct {
	Rows     []LineItem
	Outcomes []Outcome
	Present  []Present
	Missing  []Missing
}

// Repository loads monthly order partitions through a manifest resolver.
type Repository struct {
	provider    fetch.Provider
	resolver    *manifest.Resolver
	files       source.OrderFiles
	concurrency int
}

// NewRepository creates an order repository. concurrency bounds parallel
// partition loads; values < 1 use the default.
func NewRepository(provider fetch.Provider, resolver *manifest.Resolver, files source.OrderFiles, concurrency int) *Repository {
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}
	return &Repository{
		provider:    provider,
		resolver:    resolver,
		files:       files,
		concurrency: concurrency,
	}
}

// AvailableRange returns the span covered by the manifest. ok is false when
// the manifest lists no months.
func (r *Repository) AvailableRange(ctx context.Context) (period.Range, bool, error) {
	months, err := r.resolver.ListMonths(ctx)
	if err != nil {
		return period.Range{}, false, err
	}
	if len(months) == 0 {
		return period.Range{}, false, nil
	}
	return period.Range{Start: months[0].YearMonth, End: months[len(months)-1].YearMonth}, true, nil
}

// FindByMonthRange loads every manifest month within rng in parallel.
// A single partition failure never fails the call; it is reported in Missing.
// Only a manifest failure is returned as an error.
func (r *Repository) FindByMonthRange(ctx context.Context, rng period.Range) (*RangeResult, error) {
	months, err := r.resolver.MonthsInRange(ctx, rng)
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, len(months))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, m := range months {
		i, m := i, m
		g.Go(func() error {
			outcomes[i] = r.loadPartition(gctx, m.YearMonth)
			return nil
		})
	}
	_ = g.Wait()

	result := &RangeResult{Outcomes: outcomes}
	for _, o := range outcomes {
		switch o := o.(type) {
		case Loaded:
			result.Rows = append(result.Rows, o.Rows...)
			result.Present = append(result.Present, Present{Month: o.Month, Path: o.Path, RowCount: len(o.Rows)})
			telemetry.PartitionLoads.WithLabelValues("present").Inc()
		case Failed:
			result.Missing = append(result.Missing, Missing{Month: o.Month, Path: o.Path, Err: o.Err, Error: o.Err.Error()})
			telemetry.PartitionLoads.WithLabelValues("missing").Inc()
		}
	}

	slog.Info("[Orders] Loaded month range",
		"range", rng.String(),
		"present", len(result.Present),
		"missing", len(result.Missing),
		"rows", len(result.Rows))
	return result, nil
}

// LoadMonth loads a single partition.
func (r *Repository) LoadMonth(ctx context.Context, ym period.YearMonth) ([]LineItem, error) {
	// Make sure explicit manifest paths are known before resolving.
	if _, err := r.resolver.ListMonths(ctx); err != nil {
		return nil, err
	}
	switch o := r.loadPartition(ctx, ym).(type) {
	case Loaded:
		return o.Rows, nil
	case Failed:
		return nil, o.Err
	default:
		return nil, fmt.Errorf("unexpected partition outcome %T", o)
	}
}

func (r *Repository) loadPartition(ctx context.Context, ym period.YearMonth) Outcome {
	var (
		rows   []LineItem
		issues issueCounts
		path   string
		err    error
	)
	if r.files.Paired() {
		rows, issues, path, err = r.loadPaired(ctx, ym)
	} else {
		rows, issues, path, err = r.loadSingle(ctx, ym)
	}
	if err != nil {
		slog.Warn("[Orders] Partition unavailable", "month", ym.String(), "path", path, "error", err)
		return Failed{Month: ym, Path: path, Err: err}
	}

	if len(issues) > 0 {
		kinds := make([]string, 0, len(issues))
		for k, n := range issues {
			kinds = append(kinds, fmt.Sprintf("%s=%d", k, n))
			telemetry.RowIssues.WithLabelValues(k).Add(float64(n))
		}
		sort.Strings(kinds)
		slog.Warn("[Orders] Recovered malformed rows", "month", ym.String(), "path", path, "issues", strings.Join(kinds, ","))
	}
	return Loaded{Month: ym, Path: path, Rows: rows}
}

func (r *Repository) loadSingle(ctx context.Context, ym period.YearMonth) ([]LineItem, issueCounts, string, error) {
	path, err := r.resolver.Resolve(ctx, ym, r.files.Templates)
	if err != nil {
		return nil, nil, path, err
	}
	data, err := r.provider.Fetch(ctx, path)
	if err != nil {
		return nil, nil, path, err
	}
	rows, issues, err := normalizeSingle(data, ym)
	if err != nil {
		return nil, nil, path, fmt.Errorf("parse %s: %w", path, err)
	}
	return rows, issues, path, nil
}

func (r *Repository) loadPaired(ctx context.Context, ym period.YearMonth) ([]LineItem, issueCounts, string, error) {
	headerPath, err := manifest.FirstExisting(ctx, r.provider, expandAll(r.resolver.BaseDir(), ym, r.files.HeaderTemplates))
	if err != nil {
		return nil, nil, "", err
	}
	linePath, err := manifest.FirstExisting(ctx, r.provider, expandAll(r.resolver.BaseDir(), ym, r.files.LineTemplates))
	if err != nil {
		return nil, nil, headerPath, err
	}
	path := headerPath + " + " + linePath

	headerData, err := r.provider.Fetch(ctx, headerPath)
	if err != nil {
		return nil, nil, path, err
	}
	lineData, err := r.provider.Fetch(ctx, linePath)
	if err != nil {
		return nil, nil, path, err
	}
	rows, issues, err := normalizePaired(headerData, lineData, ym)
	if err != nil {
		return nil, nil, path, err
	}
	return rows, issues, path, nil
}

func expandAll(baseDir string, ym period.YearMonth, templates []string) []string {
	vars := manifest.MonthVars(baseDir, ym)
	out := make([]string, 0, len(templates))
	for _, t := range templates {
		out = append(out, manifest.Expand(t, vars))
	}
	return out
}
