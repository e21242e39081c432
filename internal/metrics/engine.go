package metrics

import (
	"context"
	"fmt"
	"strings"

	"github.com/aevon-lab/orderlens/internal/core/period"
	"github.com/aevon-lab/orderlens/internal/order"
	"github.com/shopspring/decimal"
)

// Request asks for metrics over an already filtered row set. Months is the
// window advanced KPIs are computed over.
type Request struct {
	Rows    []order.LineItem
	Months  []period.YearMonth
	Metrics []string
}

// Summary is the computed metric set.
type Summary struct {
	Values  map[string]decimal.Decimal `json:"values"`
	Grouped []GroupedRow               `json:"grouped,omitempty"`
	Attach  *AttachReport              `json:"attach,omitempty"`
}

// Engine dispatches KPIs through the registry.
type Engine struct {
	attach *AttachCalculator
}

func NewEngine(attach *AttachCalculator) *Engine {
	return &Engine{attach: attach}
}

// Attach exposes the attach-rate calculator, mainly for cache control.
func (e *Engine) Attach() *AttachCalculator { return e.attach }

// Compute evaluates every requested metric. Names are validated before any
// work is done.
func (e *Engine) Compute(ctx context.Context, req Request) (*Summary, error) {
	kpis := make(map[string]KPI, len(req.Metrics))
	for _, name := range req.Metrics {
		kpi, err := Lookup(name)
		if err != nil {
			return nil, err
		}
		kpis[strings.ToLower(strings.TrimSpace(name))] = kpi
	}

	summary := &Summary{Values: make(map[string]decimal.Decimal, len(kpis))}
	for name, kpi := range kpis {
		if kpi.Advanced {
			continue
		}
		summary.Values[name] = kpi.Reduce(req.Rows)
		if kpi.GroupByVariant && summary.Grouped == nil {
			summary.Grouped = RegroupByVariant(req.Rows)
		}
	}

	if _, ok := kpis[KPIAttachRate]; ok {
		if e.attach == nil {
			return nil, fmt.Errorf("attach rate requested but no calculator configured")
		}
		report, err := e.attach.Compute(ctx, req.Months)
		if err != nil {
			return nil, fmt.Errorf("attach rate: %w", err)
		}
		products := make(map[string]struct{})
		for _, r := range req.Rows {
			products[r.ProductName] = struct{}{}
		}
		// Only products present in the approved rows are reported.
		summary.Attach = report.Scoped(products)
		summary.Values[KPIAttachRate] = summary.Attach.Overall.Rate
	}
	return summary, nil
}
