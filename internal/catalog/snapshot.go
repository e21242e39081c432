package catalog

import (
	"sort"
	"strings"
	"time"
	"unicode"
)

const (
	FacetCategory = "category"
	FacetColor    = "color"
	FacetSize     = "size"
	FacetStyle    = "style"
	FacetMaterial = "material"
	FacetGender   = "gender"
)

// FacetNames lists the exact-match facets, in display order.
var FacetNames = []string{FacetCategory, FacetColor, FacetSize, FacetStyle, FacetMaterial, FacetGender}

// Facets is the facet hierarchy of a snapshot: sorted unique values per facet,
// plus the styles seen under each category.
type Facets struct {
	Values           map[string][]string `json:"values"`
	StylesByCategory map[string][]string `json:"styles_by_category"`
}

// Snapshot is an immutable, indexed catalog. Callers share the same pointer
// while the cache entry is valid.
type Snapshot struct {
	Path      string
	LoadedAt  time.Time
	Selective bool
	Products  []Product

	titleIndex map[string][]int            // title word -> row indices
	exact      map[string]map[string][]int // facet -> lower-cased value -> row indices
	facets     Facets
}

func newSnapshot(path string, products []Product, loadedAt time.Time, selective bool) *Snapshot {
	s := &Snapshot{
		Path:       path,
		LoadedAt:   loadedAt,
		Selective:  selective,
		Products:   products,
		titleIndex: make(map[string][]int),
		exact:      make(map[string]map[string][]int, len(FacetNames)),
	}

	values := make(map[string]map[string]struct{}, len(FacetNames))
	styles := make(map[string]map[string]struct{})
	for _, f := range FacetNames {
		s.exact[f] = make(map[string][]int)
		values[f] = make(map[string]struct{})
	}

	for i, p := range products {
		seen := make(map[string]struct{})
		for _, w := range Terms(p.Title) {
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			s.titleIndex[w] = append(s.titleIndex[w], i)
		}
		for _, f := range FacetNames {
			v := strings.TrimSpace(p.Facet(f))
			if v == "" {
				continue
			}
			key := strings.ToLower(v)
			s.exact[f][key] = append(s.exact[f][key], i)
			values[f][v] = struct{}{}
		}
		if p.Category != "" && p.Style != "" {
			if styles[p.Category] == nil {
				styles[p.Category] = make(map[string]struct{})
			}
			styles[p.Category][p.Style] = struct{}{}
		}
	}

	s.facets = Facets{
		Values:           make(map[string][]string, len(values)),
		StylesByCategory: make(map[string][]string, len(styles)),
	}
	for f, set := range values {
		s.facets.Values[f] = sortedKeys(set)
	}
	for c, set := range styles {
		s.facets.StylesByCategory[c] = sortedKeys(set)
	}
	return s
}

// Facets returns the facet hierarchy.
func (s *Snapshot) Facets() Facets { return s.facets }

// Titles returns the distinct product titles, sorted.
func (s *Snapshot) Titles() []string {
	set := make(map[string]struct{}, len(s.Products))
	for _, p := range s.Products {
		set[p.Title] = struct{}{}
	}
	return sortedKeys(set)
}

// Lookup returns products whose product_id or SKU is listed, in catalog order.
func (s *Snapshot) Lookup(ids, skus []string) []Product {
	if len(ids) == 0 && len(skus) == 0 {
		return nil
	}
	want := make(map[string]struct{}, len(ids)+len(skus))
	for _, id := range ids {
		want["id:"+strings.ToLower(strings.TrimSpace(id))] = struct{}{}
	}
	for _, sku := range skus {
		want["sku:"+strings.ToLower(strings.TrimSpace(sku))] = struct{}{}
	}
	var out []Product
	for _, p := range s.Products {
		_, byID := want["id:"+strings.ToLower(p.ProductID)]
		_, bySKU := want["sku:"+strings.ToLower(p.SKU)]
		if byID || (p.SKU != "" && bySKU) {
			out = append(out, p)
		}
	}
	return out
}

// Terms lowercases text and splits it into words of letters, digits and
// hyphens. Search tokens and title words both go through it.
func Terms(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
