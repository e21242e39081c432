package metrics

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/aevon-lab/orderlens/internal/core/period"
	"github.com/aevon-lab/orderlens/internal/core/telemetry"
	"github.com/aevon-lab/orderlens/internal/order"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// MonthLoader loads all line items of one partition, unfiltered.
type MonthLoader interface {
	LoadMonth(ctx context.Context, ym period.YearMonth) ([]order.LineItem, error)
}

// AttachRecord holds attach counts for one key. Rate is a percentage rounded
// to one decimal.
type AttachRecord struct {
	TotalOrders  int64           `json:"total_orders"`
	AttachOrders int64           `json:"attach_orders"`
	Rate         decimal.Decimal `json:"rate"`
}

func (a AttachRecord) add(other AttachRecord) AttachRecord {
	return AttachRecord{
		TotalOrders:  a.TotalOrders + other.TotalOrders,
		AttachOrders: a.AttachOrders + other.AttachOrders,
	}
}

func (a AttachRecord) withRate() AttachRecord {
	a.Rate = decimal.Zero
	if a.TotalOrders > 0 {
		a.Rate = decimal.NewFromInt(a.AttachOrders).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(a.TotalOrders)).
			Round(1)
	}
	return a
}

// VariantAttach is the attach record of one variant.
type VariantAttach struct {
	Variant order.VariantKey `json:"variant"`
	AttachRecord
}

// AttachReport is attach rate per variant with rollups. Every rollup sums
// numerators and denominators before dividing.
type AttachReport struct {
	Months    []period.YearMonth      `json:"months"`
	Missing   []period.YearMonth      `json:"missing,omitempty"`
	Variants  []VariantAttach         `json:"variants"`
	ByProduct map[string]AttachRecord `json:"by_product"`
	ByColor   map[string]AttachRecord `json:"by_color"`
	BySize    map[string]AttachRecord `json:"by_size"`
	Overall   AttachRecord            `json:"overall"`
}

type monthCounts map[order.VariantKey]AttachRecord

// AttachCalculator computes attach rate with a per-month cache keyed by
// "yyyy-mm". The cache is only invalidated by ClearCache.
type AttachCalculator struct {
	loader      MonthLoader
	concurrency int

	mu    sync.RWMutex
	cache map[string]monthCounts
}

// NewAttachCalculator creates a calculator loading months through loader.
func NewAttachCalculator(loader MonthLoader, concurrency int) *AttachCalculator {
	if concurrency < 1 {
		concurrency = 4
	}
	return &AttachCalculator{
		loader:      loader,
		concurrency: concurrency,
		cache:       make(map[string]monthCounts),
	}
}

// ClearCache drops every cached month.
func (c *AttachCalculator) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]monthCounts)
	c.mu.Unlock()
	slog.Info("[Metrics] Attach-rate cache cleared")
}

// CachedMonths returns the cached month keys, sorted.
func (c *AttachCalculator) CachedMonths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.cache))
	for k := range c.cache {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Compute returns the attach report for months. Months that fail to load are
// listed in Missing and are not cached.
func (c *AttachCalculator) Compute(ctx context.Context, months []period.YearMonth) (*AttachReport, error) {
	partials := make([]monthCounts, len(months))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, ym := range months {
		i, ym := i, ym
		g.Go(func() error {
			partials[i] = c.month(gctx, ym)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &AttachReport{}
	variants := make(map[order.VariantKey]AttachRecord)
	for i, partial := range partials {
		if partial == nil {
			report.Missing = append(report.Missing, months[i])
			continue
		}
		report.Months = append(report.Months, months[i])
		for key, rec := range partial {
			variants[key] = variants[key].add(rec)
		}
	}
	report.rollup(variants)
	return report, nil
}

// Scoped returns a copy of the report holding only the variants of the named
// products. Every rollup is rebuilt from those variants.
func (r *AttachReport) Scoped(names map[string]struct{}) *AttachReport {
	out := &AttachReport{Months: r.Months, Missing: r.Missing}
	variants := make(map[order.VariantKey]AttachRecord)
	for _, v := range r.Variants {
		if _, ok := names[v.Variant.Product]; ok {
			variants[v.Variant] = AttachRecord{TotalOrders: v.TotalOrders, AttachOrders: v.AttachOrders}
		}
	}
	out.rollup(variants)
	return out
}

func (r *AttachReport) rollup(variants map[order.VariantKey]AttachRecord) {
	r.Variants = make([]VariantAttach, 0, len(variants))
	r.ByProduct = make(map[string]AttachRecord)
	r.ByColor = make(map[string]AttachRecord)
	r.BySize = make(map[string]AttachRecord)

	var overall AttachRecord
	for key, rec := range variants {
		r.Variants = append(r.Variants, VariantAttach{Variant: key, AttachRecord: rec.withRate()})
		r.ByProduct[key.Product] = r.ByProduct[key.Product].add(rec)
		r.ByColor[key.Color] = r.ByColor[key.Color].add(rec)
		r.BySize[key.Size] = r.BySize[key.Size].add(rec)
		overall = overall.add(rec)
	}
	for _, m := range []map[string]AttachRecord{r.ByProduct, r.ByColor, r.BySize} {
		for k, rec := range m {
			m[k] = rec.withRate()
		}
	}
	r.Overall = overall.withRate()
	sort.Slice(r.Variants, func(a, b int) bool {
		return r.Variants[a].Variant.String() < r.Variants[b].Variant.String()
	})
}

// month returns the cached counts for ym, computing them on a miss.
// A nil result means the month could not be loaded.
func (c *AttachCalculator) month(ctx context.Context, ym period.YearMonth) monthCounts {
	key := ym.String()
	c.mu.RLock()
	cached, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		telemetry.AttachCache.WithLabelValues("hit").Inc()
		return cached
	}
	telemetry.AttachCache.WithLabelValues("miss").Inc()

	rows, err := c.loader.LoadMonth(ctx, ym)
	if err != nil {
		slog.Warn("[Metrics] Attach-rate month unavailable", "month", key, "error", err)
		return nil
	}
	counts := countAttach(rows)

	c.mu.Lock()
	c.cache[key] = counts
	c.mu.Unlock()
	return counts
}

// countAttach computes per-variant order counts for one set of rows. An order
// with any line numbered 2 or higher is an attach order, and every variant it
// touches counts it once in both numerator and denominator.
func countAttach(rows []order.LineItem) monthCounts {
	type orderInfo struct {
		attach   bool
		variants map[order.VariantKey]struct{}
	}
	orders := make(map[string]*orderInfo)
	for _, li := range rows {
		info := orders[li.OrderID]
		if info == nil {
			info = &orderInfo{variants: make(map[order.VariantKey]struct{})}
			orders[li.OrderID] = info
		}
		if li.LineNumber >= 2 {
			info.attach = true
		}
		info.variants[li.Variant()] = struct{}{}
	}

	counts := make(monthCounts)
	for _, info := range orders {
		for key := range info.variants {
			rec := counts[key]
			rec.TotalOrders++
			if info.attach {
				rec.AttachOrders++
			}
			counts[key] = rec
		}
	}
	return counts
}
