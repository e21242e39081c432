package order

import (
	"strings"
	"time"

	"github.com/aevon-lab/orderlens/internal/core/period"
	"github.com/shopspring/decimal"
)

// LineItem is one sold line of an order. It is created by normalization during a
// repository load and never mutated afterwards.
type LineItem struct {
	OrderID     string           `json:"order_id"`
	LineNumber  int              `json:"line_number"` // 1-based; >= 2 marks an attach line
	ProductName string           `json:"product_name"`
	SKU         string           `json:"sku,omitempty"`
	Color       string           `json:"color,omitempty"`
	Size        string           `json:"size,omitempty"`
	Quantity    decimal.Decimal  `json:"quantity"`
	NetRevenue  decimal.Decimal  `json:"net_revenue"`
	OrderedAt   *time.Time       `json:"order_datetime_normalized"`
	SourceMonth period.YearMonth `json:"source_month"`

	// Extra holds every source column verbatim, including the ones above.
	Extra map[string]string `json:"extra,omitempty"`
}

// Field returns a dimension value by name: a normalized field when the name is
// one of the core columns, otherwise the raw source column.
func (li LineItem) Field(name string) string {
	switch name {
	case "order_id":
		return li.OrderID
	case "product_name":
		return li.ProductName
	case "sku":
		return li.SKU
	case "color":
		return li.Color
	case "size":
		return li.Size
	}
	if v, ok := li.Extra[name]; ok {
		return v
	}
	return li.Extra[lookupKey(li.Extra, name)]
}

func lookupKey(m map[string]string, name string) string {
	for k := range m {
		if strings.EqualFold(strings.TrimSpace(k), name) {
			return k
		}
	}
	return ""
}

// VariantKey identifies a product variant (product x color x size).
type VariantKey struct {
	Product string `json:"product"`
	Color   string `json:"color"`
	Size    string `json:"size"`
}

func (k VariantKey) String() string {
	return k.Product + "|" + k.Color + "|" + k.Size
}

// Variant returns the line's variant key.
func (li LineItem) Variant() VariantKey {
	return VariantKey{Product: li.ProductName, Color: li.Color, Size: li.Size}
}
