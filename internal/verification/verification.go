package verification

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aevon-lab/orderlens/internal/catalog"
	"github.com/aevon-lab/orderlens/internal/order"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownCandidate is returned when a decision names a product that was
	// not pending in the verification context.
	ErrUnknownCandidate = errors.New("unknown verification candidate")

	// ErrInvalidDecision is returned for decision values other than approved/rejected.
	ErrInvalidDecision = errors.New("invalid verification decision")
)

// Decision is the user's verdict on a candidate.
type Decision string

const (
	Approved Decision = "approved"
	Rejected Decision = "rejected"
)

// ParseDecision accepts approved/approve/yes and rejected/reject/no.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approved", "approve", "yes":
		return Approved, nil
	case "rejected", "reject", "no":
		return Rejected, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDecision, s)
}

// Candidate is an order-derived product name found in neither the catalog
// results nor the user's selection. OrderCount is the number of held-out lines;
// DistinctOrders counts their order ids.
type Candidate struct {
	Name           string           `json:"name"`
	OrderCount     int              `json:"order_count"`
	DistinctOrders int              `json:"distinct_orders"`
	TotalQuantity  decimal.Decimal  `json:"total_quantity"`
	Orders         []order.LineItem `json:"orders"`
}

// Input is one checkpoint evaluation.
type Input struct {
	Rows         []order.LineItem
	Terms        []string // active search terms; empty means every name matches
	CatalogNames []string // titles returned by the catalog search
	Selection    []string // names the user explicitly selected

	// SelectionActive is set when the user narrowed by id or SKU, even if
	// nothing resolved to a name. Unselected catalog matches are then rejected.
	SelectionActive bool
}

// Outcome partitions the search-matching names into three disjoint sets.
type Outcome struct {
	Approved      []order.LineItem
	Rejected      []order.LineItem
	Pending       []Candidate
	ApprovedNames []string
	RejectedNames []string
	FilteredOut   int // lines whose name did not match the terms
}

// NeedsVerification reports whether metric computation must wait for decisions.
func (o Outcome) NeedsVerification() bool { return len(o.Pending) > 0 }

// PendingNames lists the candidate names.
func (o Outcome) PendingNames() []string {
	out := make([]string, 0, len(o.Pending))
	for _, c := range o.Pending {
		out = append(out, c.Name)
	}
	return out
}

// NormalizeName folds case and collapses whitespace for name comparison.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func nameSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		if k := NormalizeName(n); k != "" {
			out[k] = struct{}{}
		}
	}
	return out
}

// matchesTerms reports whether every term is a substring of some word of
// name, using the catalog search tokenizer.
func matchesTerms(name string, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	words := catalog.Terms(name)
	for _, t := range terms {
		found := false
		for _, w := range words {
			if strings.Contains(w, t) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Classify evaluates every product name in rows:
//
//  1. filtered out: some term matches no word of the name
//  2. approved: selected, or a catalog match while no selection is active
//  3. rejected: a catalog match the user did not select
//  4. pending: neither a catalog match nor selected
func Classify(in Input) Outcome {
	terms := catalog.Terms(strings.Join(in.Terms, " "))
	catalogNames := nameSet(in.CatalogNames)
	selected := nameSet(in.Selection)
	narrowed := in.SelectionActive || len(selected) > 0

	var out Outcome
	approvedNames := make(map[string]string)
	rejectedNames := make(map[string]string)
	pending := make(map[string]*Candidate)
	pendingOrders := make(map[string]map[string]struct{})

	for _, li := range in.Rows {
		key := NormalizeName(li.ProductName)
		if !matchesTerms(li.ProductName, terms) {
			out.FilteredOut++
			continue
		}
		_, inSelection := selected[key]
		_, inCatalog := catalogNames[key]

		switch {
		case inSelection || (inCatalog && !narrowed):
			out.Approved = append(out.Approved, li)
			if _, ok := approvedNames[key]; !ok {
				approvedNames[key] = li.ProductName
			}
		case inCatalog:
			out.Rejected = append(out.Rejected, li)
			if _, ok := rejectedNames[key]; !ok {
				rejectedNames[key] = li.ProductName
			}
		default:
			c := pending[key]
			if c == nil {
				c = &Candidate{Name: li.ProductName, TotalQuantity: decimal.Zero}
				pending[key] = c
				pendingOrders[key] = make(map[string]struct{})
			}
			c.Orders = append(c.Orders, li)
			c.OrderCount++
			c.TotalQuantity = c.TotalQuantity.Add(li.Quantity)
			pendingOrders[key][li.OrderID] = struct{}{}
		}
	}

	for key, c := range pending {
		c.DistinctOrders = len(pendingOrders[key])
		out.Pending = append(out.Pending, *c)
	}
	sort.Slice(out.Pending, func(i, j int) bool { return out.Pending[i].Name < out.Pending[j].Name })
	out.ApprovedNames = sortedValues(approvedNames)
	out.RejectedNames = sortedValues(rejectedNames)
	return out
}

func sortedValues(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Context is a paused verification: what was approved outright and what is
// waiting for a decision.
type Context struct {
	ID         string           `json:"context_id"`
	CreatedAt  time.Time        `json:"created_at"`
	Approved   []order.LineItem `json:"approved_results"`
	Candidates []Candidate      `json:"discovered_products"`
}

// Resolve merges the approved lines with the lines of user-approved
// candidates. Candidates without a decision are treated as rejected.
func Resolve(vc *Context, decisions map[string]Decision) ([]order.LineItem, error) {
	if vc == nil {
		return nil, errors.New("nil verification context")
	}

	byName := make(map[string]int, len(vc.Candidates))
	for i, c := range vc.Candidates {
		byName[NormalizeName(c.Name)] = i
	}
	approved := make(map[int]struct{}, len(decisions))
	for name, d := range decisions {
		i, ok := byName[NormalizeName(name)]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCandidate, name)
		}
		switch d {
		case Approved:
			approved[i] = struct{}{}
		case Rejected:
		default:
			return nil, fmt.Errorf("%w: %q for %q", ErrInvalidDecision, d, name)
		}
	}

	rows := make([]order.LineItem, 0, len(vc.Approved))
	rows = append(rows, vc.Approved...)
	for i, c := range vc.Candidates {
		if _, ok := approved[i]; ok {
			rows = append(rows, c.Orders...)
		}
	}
	return rows, nil
}
