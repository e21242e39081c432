package order

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aevon-lab/orderlens/internal/core/period"
	"github.com/shopspring/decimal"
)

// UnknownProduct is the name given to lines without a product name.
const UnknownProduct = "Unknown Product"

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
	"1/2/2006 15:04",
	"1/2/2006",
}

// table is a decoded CSV file. Column lookups go through canonical names
// (lower-case, trimmed, spaces as underscores) so "Product Name" and
// "product_name" resolve to the same column.
type table struct {
	header []string
	canon  map[string]int
	rows   [][]string
}

func readTable(data []byte) (*table, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty csv")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	t := &table{header: header, canon: make(map[string]int, len(header))}
	for i, h := range header {
		key := canonical(h)
		if _, dup := t.canon[key]; !dup && key != "" {
			t.canon[key] = i
		}
	}

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if blank(rec) {
			continue
		}
		t.rows = append(t.rows, rec)
	}
	return t, nil
}

func canonical(col string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(col)), " ", "_")
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// row is one record viewed through both its verbatim columns and canonical names.
type row struct {
	extra map[string]string
	canon map[string]string
}

func (t *table) row(rec []string) row {
	r := row{
		extra: make(map[string]string, len(t.header)),
		canon: make(map[string]string, len(t.header)),
	}
	for i, h := range t.header {
		v := ""
		if i < len(rec) {
			v = rec[i]
		}
		r.extra[h] = v
	}
	for key, i := range t.canon {
		if i < len(rec) {
			r.canon[key] = strings.TrimSpace(rec[i])
		}
	}
	return r
}

// underlay adds the columns of other that r does not already carry.
func (r row) underlay(other row) {
	for k, v := range other.extra {
		if _, ok := r.extra[k]; !ok {
			r.extra[k] = v
		}
	}
	for k, v := range other.canon {
		if cur, ok := r.canon[k]; !ok || cur == "" {
			r.canon[k] = v
		}
	}
}

// first returns the first non-empty value among the named columns.
func (r row) first(names ...string) string {
	for _, n := range names {
		if v := r.canon[n]; v != "" {
			return v
		}
	}
	return ""
}

// issueCounts tallies recovered normalization problems for one partition.
type issueCounts map[string]int

func (c issueCounts) add(kind string) { c[kind]++ }

// normalize turns one row into a LineItem. It never fails: every field the
// pipeline relies on falls back to a presentable default and the problem is
// recorded in issues.
func normalize(r row, ym period.YearMonth, index int, issues issueCounts) LineItem {
	li := LineItem{
		OrderID:     r.first("order_id", "order_number", "order_name", "name"),
		ProductName: r.first("product_name", "lineitem_name", "title", "product_title"),
		SKU:         r.first("sku", "lineitem_sku", "variant_sku"),
		Color:       r.first("color", "colour", "variant_color"),
		Size:        r.first("size", "variant_size"),
		SourceMonth: ym,
		Extra:       r.extra,
	}

	if li.OrderID == "" {
		li.OrderID = fmt.Sprintf("%s#%d", ym, index+1)
		issues.add("missing_order_id")
	}
	if li.ProductName == "" {
		li.ProductName = UnknownProduct
		issues.add("missing_product_name")
	}

	li.LineNumber = 1
	if raw := r.first("line_number", "line_no", "line"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			issues.add("bad_line_number")
		} else {
			li.LineNumber = n
		}
	}

	li.Quantity = decimal.NewFromInt(1)
	if raw := r.first("quantity", "qty", "lineitem_quantity"); raw != "" {
		if q, ok := ParseAmount(raw); ok && !q.IsNegative() {
			li.Quantity = q
		} else {
			issues.add("bad_quantity")
		}
	}

	li.NetRevenue = revenue(r, issues)

	if raw := r.first("order_datetime_normalized", "order_datetime", "created_at", "order_date"); raw != "" {
		if ts, ok := parseTime(raw); ok {
			li.OrderedAt = &ts
		} else {
			issues.add("bad_datetime")
		}
	}
	return li
}

// revenue prefers net_revenue, then discounted_price, then unit_price minus
// line_discount. Unparseable amounts count as zero.
func revenue(r row, issues issueCounts) decimal.Decimal {
	for _, col := range []string{"net_revenue", "discounted_price"} {
		if raw := r.canon[col]; raw != "" {
			if d, ok := ParseAmount(raw); ok {
				return d
			}
			issues.add("bad_amount")
		}
	}

	unit, hasUnit := ParseAmount(r.canon["unit_price"])
	discount, _ := ParseAmount(r.canon["line_discount"])
	if !hasUnit {
		if r.canon["unit_price"] != "" {
			issues.add("bad_amount")
		}
		return decimal.Zero
	}
	return unit.Sub(discount)
}

func parseTime(raw string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// normalizeSingle converts one partition CSV into line items.
func normalizeSingle(data []byte, ym period.YearMonth) ([]LineItem, issueCounts, error) {
	t, err := readTable(data)
	if err != nil {
		return nil, nil, err
	}
	issues := issueCounts{}
	out := make([]LineItem, 0, len(t.rows))
	for i, rec := range t.rows {
		out = append(out, normalize(t.row(rec), ym, i, issues))
	}
	return out, issues, nil
}

// normalizePaired joins a line CSV to its order-header CSV on order_id.
// Header columns fill in what the line does not carry; lines without a
// matching header are kept as they are.
func normalizePaired(headerData, lineData []byte, ym period.YearMonth) ([]LineItem, issueCounts, error) {
	headers, err := readTable(headerData)
	if err != nil {
		return nil, nil, fmt.Errorf("order headers: %w", err)
	}
	lines, err := readTable(lineData)
	if err != nil {
		return nil, nil, fmt.Errorf("order lines: %w", err)
	}

	byOrder := make(map[string]row, len(headers.rows))
	for _, rec := range headers.rows {
		h := headers.row(rec)
		if id := h.first("order_id"); id != "" {
			if _, dup := byOrder[id]; !dup {
				byOrder[id] = h
			}
		}
	}

	issues := issueCounts{}
	out := make([]LineItem, 0, len(lines.rows))
	for i, rec := range lines.rows {
		l := lines.row(rec)
		if h, ok := byOrder[l.first("order_id")]; ok {
			l.underlay(h)
		} else {
			issues.add("orphan_line")
		}
		out = append(out, normalize(l, ym, i, issues))
	}
	return out, issues, nil
}
