package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aevon-lab/orderlens/internal/catalog"
	"github.com/aevon-lab/orderlens/internal/core/period"
	"github.com/aevon-lab/orderlens/internal/core/telemetry"
	"github.com/aevon-lab/orderlens/internal/metrics"
	"github.com/aevon-lab/orderlens/internal/order"
	"github.com/aevon-lab/orderlens/internal/verification"
	"github.com/google/uuid"
)

const defaultMaxPending = 64

// OrderSource loads order line items for a month range.
type OrderSource interface {
	FindByMonthRange(ctx context.Context, rng period.Range) (*order.RangeResult, error)
	AvailableRange(ctx context.Context) (period.Range, bool, error)
}

// CatalogSource provides the current catalog snapshot.
type CatalogSource interface {
	LoadCurrentCatalog(ctx context.Context) (*catalog.Snapshot, error)
}

// Options configures an Engine.
type Options struct {
	// RememberDecisions applies earlier verification decisions automatically.
	RememberDecisions bool
	// MaxPending bounds paused contexts; the oldest is evicted first.
	MaxPending int
}

// pendingRun is a paused query waiting for verification decisions.
type pendingRun struct {
	vc      *verification.Context
	query   Query
	epoch   uint64
	months  []period.YearMonth
	present []order.Present
	missing []order.Missing
	warns   []string
}

// Engine runs the query pipeline: load months, filter rows, verify products,
// compute metrics.
type Engine struct {
	orders  OrderSource
	catalog CatalogSource
	metrics *metrics.Engine
	memo    *verification.Memo
	opts    Options
	nowFn   func() time.Time

	epoch atomic.Uint64

	mu           sync.Mutex
	pending      map[string]*pendingRun
	pendingOrder []string
}

// NewEngine wires the pipeline stages.
func NewEngine(orders OrderSource, cat CatalogSource, m *metrics.Engine, opts Options) *Engine {
	if opts.MaxPending <= 0 {
		opts.MaxPending = defaultMaxPending
	}
	e := &Engine{
		orders:  orders,
		catalog: cat,
		metrics: m,
		opts:    opts,
		pending: make(map[string]*pendingRun),
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
	if opts.RememberDecisions {
		e.memo = verification.NewMemo()
	}
	return e
}

// Epoch is the number of the most recent Run. Callers drop results whose
// Epoch is lower than the latest one they issued.
func (e *Engine) Epoch() uint64 { return e.epoch.Load() }

// Run executes q. A result with NeedsVerification set is a pause, not a failure.
func (e *Engine) Run(ctx context.Context, q Query) (*Result, error) {
	started := time.Now()
	res, err := e.run(ctx, q)
	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case res.NeedsVerification:
		status = "paused"
	}
	telemetry.QueryDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
	return res, err
}

func (e *Engine) run(ctx context.Context, q Query) (*Result, error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}
	if len(q.Metrics) == 0 {
		q.Metrics = append([]string(nil), DefaultMetrics...)
	}
	for _, name := range q.Metrics {
		if _, err := metrics.Lookup(name); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
		}
	}

	epoch := e.epoch.Add(1)
	res := &Result{Epoch: epoch, Query: q}

	var rng period.Range
	ok := true
	if q.Time != nil {
		if rng, err = q.Time.Range(); err != nil {
			return nil, invalidQueryf("%v", err)
		}
	} else if rng, ok, err = e.orders.AvailableRange(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	if !ok {
		res.Warnings = append(res.Warnings, "no months are published for this data source")
		res.Summary, err = e.metrics.Compute(ctx, metrics.Request{Metrics: q.Metrics})
		return res, err
	}

	loaded, err := e.orders.FindByMonthRange(ctx, rng)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	res.Present, res.Missing = loaded.Present, loaded.Missing
	res.Warnings = append(res.Warnings, missingWarnings(loaded.Missing)...)

	rows := filterRows(loaded.Rows, q)

	outcome, warns := e.checkpoint(ctx, rows, q)
	res.Warnings = append(res.Warnings, warns...)
	if e.memo != nil {
		outcome = e.memo.Apply(outcome)
	}

	months := outcomeMonths(loaded.Outcomes)
	if outcome.NeedsVerification() {
		vc := &verification.Context{
			ID:         uuid.NewString(),
			CreatedAt:  e.nowFn(),
			Approved:   outcome.Approved,
			Candidates: outcome.Pending,
		}
		e.park(&pendingRun{
			vc:      vc,
			query:   q,
			epoch:   epoch,
			months:  months,
			present: res.Present,
			missing: res.Missing,
			warns:   res.Warnings,
		})
		telemetry.VerificationPauses.Inc()
		slog.Info("[Query] Paused for verification",
			"context_id", vc.ID,
			"discovered", len(vc.Candidates),
			"approved_lines", len(vc.Approved))

		res.NeedsVerification = true
		res.ContextID = vc.ID
		res.DiscoveredProducts = vc.Candidates
		res.ApprovedResults = vc.Approved
		return res, nil
	}

	res.RawData = outcome.Approved
	res.Summary, err = e.metrics.Compute(ctx, metrics.Request{Rows: outcome.Approved, Months: months, Metrics: q.Metrics})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Continue resumes a paused query with the user's decisions. The context is
// claimed before resolving, so each pause resumes at most once; it is parked
// again if the decisions are rejected or metric computation fails.
func (e *Engine) Continue(ctx context.Context, contextID string, decisions map[string]verification.Decision) (*Result, error) {
	run, ok := e.claim(contextID)
	if !ok {
		return nil, fmt.Errorf("%w: context %q", ErrNoPendingVerification, contextID)
	}

	rows, err := verification.Resolve(run.vc, decisions)
	if err != nil {
		e.park(run)
		return nil, err
	}

	summary, err := e.metrics.Compute(ctx, metrics.Request{Rows: rows, Months: run.months, Metrics: run.query.Metrics})
	if err != nil {
		e.park(run)
		return nil, err
	}

	if e.memo != nil {
		e.memo.Remember(decisions)
	}
	slog.Info("[Query] Verification resolved", "context_id", contextID, "rows", len(rows))

	return &Result{
		Epoch:    run.epoch,
		Query:    run.query,
		RawData:  rows,
		Summary:  summary,
		Present:  run.present,
		Missing:  run.missing,
		Warnings: run.warns,
	}, nil
}

// Pending returns a paused verification context.
func (e *Engine) Pending(contextID string) (*verification.Context, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.pending[contextID]
	if !ok {
		return nil, false
	}
	return run.vc, true
}

// ForgetDecisions clears remembered verification decisions, if enabled.
func (e *Engine) ForgetDecisions() {
	if e.memo != nil {
		e.memo.Forget()
	}
}

func (e *Engine) park(run *pendingRun) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[run.vc.ID] = run
	e.pendingOrder = append(e.pendingOrder, run.vc.ID)
	for len(e.pendingOrder) > e.opts.MaxPending {
		oldest := e.pendingOrder[0]
		e.pendingOrder = e.pendingOrder[1:]
		delete(e.pending, oldest)
		slog.Debug("[Query] Evicted paused context", "context_id", oldest)
	}
}

// claim removes and returns a paused run.
func (e *Engine) claim(id string) (*pendingRun, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.pending[id]
	if !ok {
		return nil, false
	}
	delete(e.pending, id)
	for i, v := range e.pendingOrder {
		if v == id {
			e.pendingOrder = append(e.pendingOrder[:i], e.pendingOrder[i+1:]...)
			break
		}
	}
	return run, true
}

// checkpoint reconciles rows against the catalog search for the query text
// and the explicit selection. A catalog failure degrades to an empty catalog,
// which sends every name to verification, and is reported as a warning.
func (e *Engine) checkpoint(ctx context.Context, rows []order.LineItem, q Query) (verification.Outcome, []string) {
	in := verification.Input{Rows: rows}
	text := ""
	var warns []string
	if q.Product != nil {
		text = q.Product.Text
		in.Terms = catalog.Terms(text)
		in.SelectionActive = len(q.Product.IDs)+len(q.Product.SKUs) > 0
		in.Selection = namesBySKU(rows, q.Product.SKUs)
	}

	snap, err := e.catalog.LoadCurrentCatalog(ctx)
	if err != nil {
		slog.Warn("[Query] Catalog unavailable, every product needs verification", "error", err)
		warns = append(warns, "catalog unavailable: "+err.Error())
	} else {
		for _, m := range snap.Search(text, nil) {
			in.CatalogNames = append(in.CatalogNames, m.Product.Title)
		}
		if q.Product != nil {
			for _, p := range snap.Lookup(q.Product.IDs, q.Product.SKUs) {
				in.Selection = append(in.Selection, p.Title)
			}
		}
	}

	if err == nil && in.SelectionActive && len(in.Selection) == 0 {
		warns = append(warns, "selected ids and skus match no catalog product or order line")
	}
	return verification.Classify(in), warns
}

// namesBySKU returns the product names of rows whose SKU is one of skus.
func namesBySKU(rows []order.LineItem, skus []string) []string {
	want := foldSet(skus)
	if want == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, r := range rows {
		if _, ok := want[strings.ToLower(strings.TrimSpace(r.SKU))]; !ok {
			continue
		}
		if _, dup := seen[r.ProductName]; !dup {
			seen[r.ProductName] = struct{}{}
			out = append(out, r.ProductName)
		}
	}
	return out
}

// filterRows applies the date window and the color/size filters.
// Rows without a timestamp are kept.
func filterRows(rows []order.LineItem, q Query) []order.LineItem {
	var startDate, endDate string
	if q.Time != nil {
		startDate, endDate = q.Time.StartDate, q.Time.EndDate
	}
	var colors, sizes map[string]struct{}
	if q.Product != nil {
		colors = foldSet(q.Product.Colors)
		sizes = foldSet(q.Product.Sizes)
	}

	out := make([]order.LineItem, 0, len(rows))
	for _, r := range rows {
		if r.OrderedAt != nil && (startDate != "" || endDate != "") {
			day := r.OrderedAt.Format(dateLayout)
			if (startDate != "" && day < startDate) || (endDate != "" && day > endDate) {
				continue
			}
		}
		if colors != nil {
			if _, ok := colors[strings.ToLower(strings.TrimSpace(r.Color))]; !ok {
				continue
			}
		}
		if sizes != nil {
			if _, ok := sizes[strings.ToLower(strings.TrimSpace(r.Size))]; !ok {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

func foldSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[strings.ToLower(v)] = struct{}{}
	}
	return out
}

func outcomeMonths(outcomes []order.Outcome) []period.YearMonth {
	out := make([]period.YearMonth, 0, len(outcomes))
	for _, o := range outcomes {
		switch o := o.(type) {
		case order.Loaded:
			out = append(out, o.Month)
		case order.Failed:
			out = append(out, o.Month)
		}
	}
	return out
}

func missingWarnings(missing []order.Missing) []string {
	out := make([]string, 0, len(missing))
	for _, m := range missing {
		out = append(out, fmt.Sprintf("month %s unavailable: %s", m.Month, m.Error))
	}
	return out
}

// ClearCaches drops the attach-rate month cache.
func (e *Engine) ClearCaches() {
	if a := e.metrics.Attach(); a != nil {
		a.ClearCache()
	}
}
