package metrics

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aevon-lab/orderlens/internal/order"
	"github.com/shopspring/decimal"
)

const (
	KPIQuantity        = "quantity"
	KPIRevenue         = "revenue"
	KPIOrderCount      = "order_count"
	KPILineCount       = "line_count"
	KPIVariantQuantity = "variant_quantity"
	KPIVariantRevenue  = "variant_revenue"
	KPIAttachRate      = "attach_rate"
)

// ErrUnknownMetric is returned for metric names missing from the registry.
var ErrUnknownMetric = errors.New("unknown metric")

// KPI describes how a metric is computed. Simple KPIs fold the filtered rows;
// advanced KPIs are computed over whole months independently of the filter.
type KPI struct {
	// Reduce folds the filtered rows. Nil for advanced KPIs.
	Reduce func(rows []order.LineItem) decimal.Decimal

	// GroupByVariant asks for the rows to be regrouped per variant as well.
	GroupByVariant bool

	Advanced bool
}

// KPIs is the registry of supported metrics.
// To add a metric: add an entry here. No switch needs to change.
var KPIs = map[string]KPI{
	KPIQuantity:        {Reduce: fold(sumAgg{}, quantityOf)},
	KPIRevenue:         {Reduce: fold(sumAgg{}, revenueOf)},
	KPILineCount:       {Reduce: fold(countAgg{}, quantityOf)},
	KPIOrderCount:      {Reduce: distinctOrders},
	KPIVariantQuantity: {Reduce: fold(sumAgg{}, quantityOf), GroupByVariant: true},
	KPIVariantRevenue:  {Reduce: fold(sumAgg{}, revenueOf), GroupByVariant: true},
	KPIAttachRate:      {Advanced: true},
}

// Names lists registered metrics, sorted.
func Names() []string {
	out := make([]string, 0, len(KPIs))
	for name := range KPIs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the KPI for name, or an ErrUnknownMetric wrap.
func Lookup(name string) (KPI, error) {
	kpi, ok := KPIs[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return KPI{}, fmt.Errorf("%w: %q (supported: %s)", ErrUnknownMetric, name, strings.Join(Names(), ", "))
	}
	return kpi, nil
}

// aggregator is the reduce step of a simple KPI.
type aggregator interface {
	Initial(incoming decimal.Decimal) decimal.Decimal
	Apply(current, incoming decimal.Decimal) decimal.Decimal
}

// countAgg increments by 1 per row. The incoming value is ignored.
type countAgg struct{}

func (countAgg) Initial(_ decimal.Decimal) decimal.Decimal    { return decimal.NewFromInt(1) }
func (countAgg) Apply(cur, _ decimal.Decimal) decimal.Decimal { return cur.Add(decimal.NewFromInt(1)) }

// sumAgg accumulates the sum of incoming values.
type sumAgg struct{}

func (sumAgg) Initial(v decimal.Decimal) decimal.Decimal      { return v }
func (sumAgg) Apply(cur, inc decimal.Decimal) decimal.Decimal { return cur.Add(inc) }

func fold(agg aggregator, field func(order.LineItem) decimal.Decimal) func([]order.LineItem) decimal.Decimal {
	return func(rows []order.LineItem) decimal.Decimal {
		if len(rows) == 0 {
			return decimal.Zero
		}
		acc := agg.Initial(field(rows[0]))
		for _, r := range rows[1:] {
			acc = agg.Apply(acc, field(r))
		}
		return acc
	}
}

func quantityOf(li order.LineItem) decimal.Decimal { return li.Quantity }
func revenueOf(li order.LineItem) decimal.Decimal  { return li.NetRevenue }

func distinctOrders(rows []order.LineItem) decimal.Decimal {
	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		seen[r.OrderID] = struct{}{}
	}
	return decimal.NewFromInt(int64(len(seen)))
}

// GroupedRow is a synthetic row standing for every line of one variant.
// Quantity and NetRevenue of the embedded LineItem are the group sums.
type GroupedRow struct {
	order.LineItem
	GroupCount     int             `json:"group_count"`
	GroupedRevenue decimal.Decimal `json:"grouped_revenue"`
}

// RegroupByVariant collapses rows sharing product, color and size. The first
// line of each group provides the descriptive fields. Groups keep first-seen order.
func RegroupByVariant(rows []order.LineItem) []GroupedRow {
	index := make(map[order.VariantKey]int)
	var out []GroupedRow
	for _, r := range rows {
		key := r.Variant()
		i, ok := index[key]
		if !ok {
			synthetic := r
			synthetic.Extra = nil
			out = append(out, GroupedRow{LineItem: synthetic, GroupCount: 1, GroupedRevenue: r.NetRevenue})
			index[key] = len(out) - 1
			continue
		}
		g := &out[i]
		g.Quantity = g.Quantity.Add(r.Quantity)
		g.NetRevenue = g.NetRevenue.Add(r.NetRevenue)
		g.GroupedRevenue = g.GroupedRevenue.Add(r.NetRevenue)
		g.GroupCount++
	}
	return out
}
