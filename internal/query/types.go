package query

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aevon-lab/orderlens/internal/core/period"
	"github.com/aevon-lab/orderlens/internal/metrics"
	"github.com/aevon-lab/orderlens/internal/order"
	"github.com/aevon-lab/orderlens/internal/verification"
)

const dateLayout = "2006-01-02"

var (
	// ErrInvalidQuery marks request validation errors that should return HTTP 400.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrNoPendingVerification means Continue was called for a context that
	// never paused, was already resolved, or was evicted.
	ErrNoPendingVerification = errors.New("no pending verification")

	// ErrSourceUnavailable wraps manifest failures.
	ErrSourceUnavailable = errors.New("data source unavailable")
)

// DefaultMetrics are computed when a query names none.
var DefaultMetrics = []string{metrics.KPIQuantity, metrics.KPIRevenue, metrics.KPIOrderCount}

// TimeRange selects partitions by month and, optionally, rows by date.
type TimeRange struct {
	StartYYYYMM string `json:"start_yyyymm,omitempty"`
	EndYYYYMM   string `json:"end_yyyymm,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
}

// ProductFilter narrows rows by product. Text drives catalog search and the
// verification terms; IDs and SKUs form the explicit selection.
type ProductFilter struct {
	Text   string   `json:"text,omitempty"`
	SKUs   []string `json:"skus,omitempty"`
	IDs    []string `json:"ids,omitempty"`
	Colors []string `json:"colors,omitempty"`
	Sizes  []string `json:"sizes,omitempty"`
}

func (p *ProductFilter) empty() bool {
	return p.Text == "" && len(p.SKUs) == 0 && len(p.IDs) == 0 && len(p.Colors) == 0 && len(p.Sizes) == 0
}

// Query is one analytics question.
type Query struct {
	Time    *TimeRange     `json:"time,omitempty"`
	Product *ProductFilter `json:"product,omitempty"`
	Metrics []string       `json:"metric,omitempty"`
}

// Normalize trims and de-duplicates every field, derives missing months from
// dates, and validates ordering. It returns a new Query.
func (q Query) Normalize() (Query, error) {
	out := Query{}

	if q.Time != nil {
		t, err := normalizeTime(*q.Time)
		if err != nil {
			return Query{}, err
		}
		out.Time = t
	}

	if q.Product != nil {
		p := ProductFilter{
			Text:   strings.Join(strings.Fields(q.Product.Text), " "),
			SKUs:   dedupe(q.Product.SKUs, false),
			IDs:    dedupe(q.Product.IDs, false),
			Colors: dedupe(q.Product.Colors, false),
			Sizes:  dedupe(q.Product.Sizes, false),
		}
		if !p.empty() {
			out.Product = &p
		}
	}

	out.Metrics = dedupe(q.Metrics, true)
	return out, nil
}

func normalizeTime(in TimeRange) (*TimeRange, error) {
	t := TimeRange{
		StartYYYYMM: strings.TrimSpace(in.StartYYYYMM),
		EndYYYYMM:   strings.TrimSpace(in.EndYYYYMM),
		StartDate:   strings.TrimSpace(in.StartDate),
		EndDate:     strings.TrimSpace(in.EndDate),
	}

	var startDate, endDate time.Time
	var err error
	if t.StartDate != "" {
		if startDate, err = time.Parse(dateLayout, t.StartDate); err != nil {
			return nil, invalidQueryf("start_date %q must be yyyy-mm-dd", t.StartDate)
		}
		if t.StartYYYYMM == "" {
			t.StartYYYYMM = period.Of(startDate).String()
		}
	}
	if t.EndDate != "" {
		if endDate, err = time.Parse(dateLayout, t.EndDate); err != nil {
			return nil, invalidQueryf("end_date %q must be yyyy-mm-dd", t.EndDate)
		}
		if t.EndYYYYMM == "" {
			t.EndYYYYMM = period.Of(endDate).String()
		}
	}
	if !startDate.IsZero() && !endDate.IsZero() && endDate.Before(startDate) {
		return nil, invalidQueryf("end_date %s is before start_date %s", t.EndDate, t.StartDate)
	}

	switch {
	case t.StartYYYYMM == "" && t.EndYYYYMM == "":
		return nil, nil
	case t.StartYYYYMM == "":
		t.StartYYYYMM = t.EndYYYYMM
	case t.EndYYYYMM == "":
		t.EndYYYYMM = t.StartYYYYMM
	}

	start, err := period.Parse(t.StartYYYYMM)
	if err != nil {
		return nil, invalidQueryf("start_yyyymm: %v", err)
	}
	end, err := period.Parse(t.EndYYYYMM)
	if err != nil {
		return nil, invalidQueryf("end_yyyymm: %v", err)
	}
	if start.After(end) {
		return nil, invalidQueryf("start %s is after end %s", start, end)
	}
	t.StartYYYYMM, t.EndYYYYMM = start.String(), end.String()
	return &t, nil
}

// Range returns the month range of a normalized time filter.
func (t *TimeRange) Range() (period.Range, error) {
	start, err := period.Parse(t.StartYYYYMM)
	if err != nil {
		return period.Range{}, err
	}
	end, err := period.Parse(t.EndYYYYMM)
	if err != nil {
		return period.Range{}, err
	}
	return period.NewRange(start, end)
}

// Merge applies patch over base: each top-level field is replaced when the
// patch sets it, except Product, whose fields are merged individually so
// earlier facet selections survive a text change. The result is normalized.
func Merge(base, patch Query) (Query, error) {
	out := base
	if patch.Time != nil {
		out.Time = patch.Time
	}
	if patch.Metrics != nil {
		out.Metrics = patch.Metrics
	}
	if patch.Product != nil {
		merged := ProductFilter{}
		if base.Product != nil {
			merged = *base.Product
		}
		p := patch.Product
		if p.Text != "" {
			merged.Text = p.Text
		}
		if p.SKUs != nil {
			merged.SKUs = p.SKUs
		}
		if p.IDs != nil {
			merged.IDs = p.IDs
		}
		if p.Colors != nil {
			merged.Colors = p.Colors
		}
		if p.Sizes != nil {
			merged.Sizes = p.Sizes
		}
		out.Product = &merged
	}
	return out.Normalize()
}

func dedupe(in []string, lower bool) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if lower {
			v = strings.ToLower(v)
		}
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func invalidQueryf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}

// Result is either a completed row set with metrics, or a pause waiting for
// verification decisions (NeedsVerification).
type Result struct {
	Epoch uint64 `json:"epoch"`
	Query Query  `json:"query"`

	NeedsVerification  bool                     `json:"needs_verification"`
	ContextID          string                   `json:"context_id,omitempty"`
	DiscoveredProducts []verification.Candidate `json:"discovered_products,omitempty"`
	ApprovedResults    []order.LineItem         `json:"approved_results,omitempty"`

	RawData []order.LineItem `json:"raw_data,omitempty"`
	Summary *metrics.Summary `json:"summary,omitempty"`

	Present  []order.Present `json:"present"`
	Missing  []order.Missing `json:"missing"`
	Warnings []string        `json:"warnings,omitempty"`
}
