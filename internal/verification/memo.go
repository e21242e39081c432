package verification

import (
	"log/slog"
	"sort"
	"sync"
)

// Memo remembers decisions for the rest of the session so later queries do
// not ask again. It is off unless verification.remember_decisions is set;
// nothing is persisted.
type Memo struct {
	mu        sync.RWMutex
	decisions map[string]Decision
}

func NewMemo() *Memo {
	return &Memo{decisions: make(map[string]Decision)}
}

// Remember records decisions keyed by normalized name.
func (m *Memo) Remember(decisions map[string]Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, d := range decisions {
		m.decisions[NormalizeName(name)] = d
	}
}

// Apply moves pending candidates with a remembered decision into the
// approved or rejected lines.
func (m *Memo) Apply(o Outcome) Outcome {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.decisions) == 0 || len(o.Pending) == 0 {
		return o
	}

	var still []Candidate
	applied := 0
	for _, c := range o.Pending {
		switch m.decisions[NormalizeName(c.Name)] {
		case Approved:
			o.Approved = append(o.Approved, c.Orders...)
			o.ApprovedNames = append(o.ApprovedNames, c.Name)
			applied++
		case Rejected:
			o.Rejected = append(o.Rejected, c.Orders...)
			o.RejectedNames = append(o.RejectedNames, c.Name)
			applied++
		default:
			still = append(still, c)
		}
	}
	o.Pending = still
	sort.Strings(o.ApprovedNames)
	sort.Strings(o.RejectedNames)
	if applied > 0 {
		slog.Debug("[Verification] Applied remembered decisions", "applied", applied, "still_pending", len(still))
	}
	return o
}

// Forget clears every remembered decision.
func (m *Memo) Forget() {
	m.mu.Lock()
	m.decisions = make(map[string]Decision)
	m.mu.Unlock()
}
