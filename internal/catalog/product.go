package catalog

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

// Product is one catalog row (one SKU/variant).
type Product struct {
	ProductID  string            `json:"product_id"`
	Title      string            `json:"title"`
	SKU        string            `json:"sku,omitempty"`
	UPC        string            `json:"upc,omitempty"`
	Color      string            `json:"color,omitempty"`
	Size       string            `json:"size,omitempty"`
	Category   string            `json:"category,omitempty"`
	Style      string            `json:"style,omitempty"`
	Material   string            `json:"material,omitempty"`
	Gender     string            `json:"gender,omitempty"`
	Available  bool              `json:"available"`
	Price      decimal.Decimal   `json:"price"`
	Images     []string          `json:"images,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Facet returns the value of a facet attribute by name.
func (p Product) Facet(name string) string {
	switch name {
	case FacetCategory:
		return p.Category
	case FacetColor:
		return p.Color
	case FacetSize:
		return p.Size
	case FacetStyle:
		return p.Style
	case FacetMaterial:
		return p.Material
	case FacetGender:
		return p.Gender
	}
	return p.Attributes[name]
}

type identifiers struct {
	SKU string `json:"sku"`
	UPC string `json:"upc"`
}

// parseProducts decodes a catalog CSV. Rows without a product_id are dropped
// and counted; malformed JSON cells are ignored for that cell only.
func parseProducts(data []byte) ([]Product, int, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, 0, fmt.Errorf("empty catalog")
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read catalog header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	get := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var (
		products []Product
		dropped  int
	)
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read catalog: %w", err)
		}

		p := Product{
			ProductID: get(rec, "product_id"),
			Title:     get(rec, "title"),
			SKU:       get(rec, "sku"),
			UPC:       get(rec, "upc"),
			Color:     get(rec, "color"),
			Size:      get(rec, "size"),
			Category:  get(rec, "category"),
			Style:     get(rec, "style"),
			Material:  get(rec, "material"),
			Gender:    get(rec, "gender"),
			Available: parseBool(get(rec, "available")),
		}
		if p.ProductID == "" {
			dropped++
			continue
		}
		if price, err := decimal.NewFromString(strings.TrimPrefix(get(rec, "price"), "$")); err == nil {
			p.Price = price
		}
		if raw := get(rec, "images"); raw != "" {
			_ = json.Unmarshal([]byte(raw), &p.Images)
		}
		if raw := get(rec, "attributes"); raw != "" {
			p.Attributes = decodeAttributes(raw)
		}
		if raw := get(rec, "identifiers"); raw != "" {
			var ids identifiers
			if json.Unmarshal([]byte(raw), &ids) == nil {
				if p.SKU == "" {
					p.SKU = ids.SKU
				}
				if p.UPC == "" {
					p.UPC = ids.UPC
				}
			}
		}
		products = append(products, p)
	}
	return products, dropped, nil
}

// decodeAttributes accepts any JSON object and stringifies non-string values.
func decodeAttributes(raw string) map[string]string {
	var generic map[string]any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return nil
	}
	out := make(map[string]string, len(generic))
	for k, v := range generic {
		switch v := v.(type) {
		case string:
			out[k] = v
		case nil:
		default:
			b, _ := json.Marshal(v)
			out[k] = string(b)
		}
	}
	return out
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "y", "available", "in stock":
		return true
	}
	return false
}
