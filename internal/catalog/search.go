package catalog

import (
	"sort"
	"strings"
)

// Filters restricts search results to exact (case-insensitive) facet values.
// Values within one facet are OR'ed; facets are AND'ed.
type Filters map[string][]string

// Match is a search hit. Score counts the query tokens the title matched.
type Match struct {
	Product Product `json:"product"`
	Score   int     `json:"score"`
}

// Search matches every query token as a substring of the title (AND), applies
// facet filters to the matched subset, and sorts by score then title.
// Empty text matches every product.
func (s *Snapshot) Search(text string, filters Filters) []Match {
	tokens := Terms(text)

	var rows map[int]struct{}
	if len(tokens) == 0 {
		rows = make(map[int]struct{}, len(s.Products))
		for i := range s.Products {
			rows[i] = struct{}{}
		}
	} else {
		for _, tok := range tokens {
			hits := s.rowsContaining(tok)
			if rows == nil {
				rows = hits
				continue
			}
			for i := range rows {
				if _, ok := hits[i]; !ok {
					delete(rows, i)
				}
			}
		}
	}

	for facet, allowed := range filters {
		if len(allowed) == 0 {
			continue
		}
		keep := make(map[int]struct{})
		for _, v := range allowed {
			for _, i := range s.facetRows(facet, v) {
				keep[i] = struct{}{}
			}
		}
		for i := range rows {
			if _, ok := keep[i]; !ok {
				delete(rows, i)
			}
		}
	}

	matches := make([]Match, 0, len(rows))
	for i := range rows {
		matches = append(matches, Match{Product: s.Products[i], Score: len(tokens)})
	}
	sort.Slice(matches, func(a, b int) bool {
		if matches[a].Score != matches[b].Score {
			return matches[a].Score > matches[b].Score
		}
		if matches[a].Product.Title != matches[b].Product.Title {
			return matches[a].Product.Title < matches[b].Product.Title
		}
		return matches[a].Product.ProductID < matches[b].Product.ProductID
	})
	return matches
}

// rowsContaining unions the postings of every title word containing tok.
func (s *Snapshot) rowsContaining(tok string) map[int]struct{} {
	out := make(map[int]struct{})
	for word, idx := range s.titleIndex {
		if !strings.Contains(word, tok) {
			continue
		}
		for _, i := range idx {
			out[i] = struct{}{}
		}
	}
	return out
}

func (s *Snapshot) facetRows(facet, value string) []int {
	key := strings.ToLower(strings.TrimSpace(value))
	if idx, ok := s.exact[facet]; ok {
		return idx[key]
	}
	// Non-indexed attribute: scan.
	var out []int
	for i, p := range s.Products {
		if strings.EqualFold(strings.TrimSpace(p.Facet(facet)), key) {
			out = append(out, i)
		}
	}
	return out
}
