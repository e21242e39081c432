package keyword

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/aevon-lab/orderlens/internal/core/period"
	"github.com/aevon-lab/orderlens/internal/core/telemetry"
	"github.com/aevon-lab/orderlens/internal/order"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultLimit = 50
	minTokenLen  = 2
)

// DefaultDims are indexed when Init is given no dimensions.
var DefaultDims = []string{"product_name", "sku", "color", "size"}

// ErrNotInitialized is reported when Search runs before Init.
var ErrNotInitialized = errors.New("keyword index not initialized")

// Op combines per-token results.
type Op string

const (
	OpAnd Op = "AND"
	OpOr  Op = "OR"
)

// RowSource loads the line items of a month window.
type RowSource interface {
	FindByMonthRange(ctx context.Context, rng period.Range) (*order.RangeResult, error)
}

// Summary is the first-seen description of an order.
type Summary struct {
	OrderID     string `json:"order_id"`
	ProductName string `json:"product_name"`
	SKU         string `json:"sku,omitempty"`
	Color       string `json:"color,omitempty"`
	Size        string `json:"size,omitempty"`
}

// SearchRequest is a keyword query. Empty Dims searches every indexed
// dimension; empty Op means AND; Limit <= 0 uses DefaultLimit.
type SearchRequest struct {
	Text  string   `json:"text"`
	Dims  []string `json:"dims"`
	Op    Op       `json:"op"`
	Limit int      `json:"limit"`
}

// SearchResult never carries a Go error; failures are reported in Error.
type SearchResult struct {
	OrderIDs  []string           `json:"order_ids"`
	Summaries map[string]Summary `json:"summaries"`
	Total     int                `json:"total"`
	Error     string             `json:"error,omitempty"`
}

// built is one immutable index generation.
type built struct {
	key       string
	dims      []string
	postings  map[string]map[string]map[string]struct{} // dim -> token -> order ids
	summaries map[string]Summary
}

// Index is an in-memory inverted index over line items, keyed by
// (dims, month window). A completed index is reused until the key changes.
type Index struct {
	source RowSource

	mu      sync.RWMutex
	current *built

	buildGroup singleflight.Group
}

// NewIndex creates an empty index over source.
func NewIndex(source RowSource) *Index {
	return &Index{source: source}
}

// Tokenize lower-cases s, treats characters outside [a-z0-9-_.] as
// separators, and drops tokens shorter than two characters.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return false
		}
		return true
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= minTokenLen {
			out = append(out, f)
		}
	}
	return out
}

func indexKey(dims []string, window period.Range) string {
	return strings.Join(dims, ",") + "@" + window.String()
}

// Init builds the index for dims over window, or reuses the current one when
// the key is unchanged. Concurrent builds of the same key are coalesced.
func (x *Index) Init(ctx context.Context, dims []string, window period.Range) error {
	if len(dims) == 0 {
		dims = DefaultDims
	}
	dims = normalizeDims(dims)
	key := indexKey(dims, window)

	x.mu.RLock()
	reuse := x.current != nil && x.current.key == key
	x.mu.RUnlock()
	if reuse {
		return nil
	}

	_, err, _ := x.buildGroup.Do(key, func() (interface{}, error) {
		result, err := x.source.FindByMonthRange(ctx, window)
		if err != nil {
			return nil, fmt.Errorf("load rows for index: %w", err)
		}
		b := build(key, dims, result.Rows)

		x.mu.Lock()
		x.current = b
		x.mu.Unlock()

		telemetry.IndexBuilds.Inc()
		slog.Info("[Keyword] Built index",
			"dims", strings.Join(dims, ","),
			"window", window.String(),
			"rows", len(result.Rows),
			"orders", len(b.summaries),
			"missing_months", len(result.Missing))
		return nil, nil
	})
	return err
}

func normalizeDims(dims []string) []string {
	seen := make(map[string]struct{}, len(dims))
	out := make([]string, 0, len(dims))
	for _, d := range dims {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

func build(key string, dims []string, rows []order.LineItem) *built {
	b := &built{
		key:       key,
		dims:      dims,
		postings:  make(map[string]map[string]map[string]struct{}, len(dims)),
		summaries: make(map[string]Summary),
	}
	for _, d := range dims {
		b.postings[d] = make(map[string]map[string]struct{})
	}

	for _, li := range rows {
		if _, seen := b.summaries[li.OrderID]; !seen {
			b.summaries[li.OrderID] = Summary{
				OrderID:     li.OrderID,
				ProductName: li.ProductName,
				SKU:         li.SKU,
				Color:       li.Color,
				Size:        li.Size,
			}
		}
		for _, d := range dims {
			for _, tok := range Tokenize(li.Field(d)) {
				ids := b.postings[d][tok]
				if ids == nil {
					ids = make(map[string]struct{})
					b.postings[d][tok] = ids
				}
				ids[li.OrderID] = struct{}{}
			}
		}
	}
	return b
}

// Search answers a multi-token query against the current index. Per token the
// postings of every requested dimension are unioned; tokens are then combined
// with AND (intersection) or OR (union).
func (x *Index) Search(req SearchRequest) (res SearchResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[Keyword] Search panicked", "panic", r)
			res = SearchResult{Summaries: map[string]Summary{}, Error: fmt.Sprintf("search failed: %v", r)}
		}
	}()

	res = SearchResult{Summaries: map[string]Summary{}}

	x.mu.RLock()
	b := x.current
	x.mu.RUnlock()
	if b == nil {
		res.Error = ErrNotInitialized.Error()
		return res
	}

	op := Op(strings.ToUpper(string(req.Op)))
	switch op {
	case "":
		op = OpAnd
	case OpAnd, OpOr:
	default:
		res.Error = fmt.Sprintf("unsupported op %q", req.Op)
		return res
	}

	dims := b.dims
	if len(req.Dims) > 0 {
		dims = normalizeDims(req.Dims)
		for _, d := range dims {
			if _, ok := b.postings[d]; !ok {
				res.Error = fmt.Sprintf("dimension %q is not indexed", d)
				return res
			}
		}
	}

	tokens := Tokenize(req.Text)
	if len(tokens) == 0 {
		return res
	}

	var acc map[string]struct{}
	for _, tok := range tokens {
		hits := make(map[string]struct{})
		for _, d := range dims {
			for id := range b.postings[d][tok] {
				hits[id] = struct{}{}
			}
		}
		switch {
		case acc == nil:
			acc = hits
		case op == OpAnd:
			for id := range acc {
				if _, ok := hits[id]; !ok {
					delete(acc, id)
				}
			}
		default:
			for id := range hits {
				acc[id] = struct{}{}
			}
		}
	}

	ids := make([]string, 0, len(acc))
	for id := range acc {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	res.Total = len(ids)

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	res.OrderIDs = ids
	for _, id := range ids {
		res.Summaries[id] = b.summaries[id]
	}
	return res
}

// Key reports the (dims, window) key of the current index, or "" before Init.
func (x *Index) Key() string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.current == nil {
		return ""
	}
	return x.current.key
}
