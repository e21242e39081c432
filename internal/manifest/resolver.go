package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aevon-lab/orderlens/internal/core/period"
	"github.com/aevon-lab/orderlens/internal/fetch"
)

// Resolver turns the active data source into available months and concrete file paths.
// The month list is cached after the first successful fetch; the manifest is
// treated as append-only for the lifetime of the resolver.
type Resolver struct {
	provider     fetch.Provider
	manifestPath string
	baseDir      string

	mu     sync.Mutex
	months []Month
	byYM   map[period.YearMonth]Month
}

// NewResolver creates a resolver for one manifest.
func NewResolver(provider fetch.Provider, manifestPath, baseDir string) *Resolver {
	return &Resolver{
		provider:     provider,
		manifestPath: manifestPath,
		baseDir:      strings.TrimRight(baseDir, "/"),
	}
}

// BaseDir is the ${baseDir} substitution used by this resolver.
func (r *Resolver) BaseDir() string { return r.baseDir }

// ListMonths returns every published month, oldest first.
// Fetch and decode failures are returned to the caller and are not cached.
func (r *Resolver) ListMonths(ctx context.Context) ([]Month, error) {
	r.mu.Lock()
	if r.months != nil {
		months := r.months
		r.mu.Unlock()
		return months, nil
	}
	r.mu.Unlock()

	data, err := r.provider.Fetch(ctx, r.manifestPath)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest %s: %w", r.manifestPath, err)
	}
	months, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", r.manifestPath, err)
	}

	byYM := make(map[period.YearMonth]Month, len(months))
	for _, m := range months {
		byYM[m.YearMonth] = m
	}

	r.mu.Lock()
	r.months = months
	r.byYM = byYM
	r.mu.Unlock()

	slog.Info("[Manifest] Loaded month list", "path", r.manifestPath, "months", len(months))
	return months, nil
}

// MonthsInRange filters the manifest to an inclusive range.
func (r *Resolver) MonthsInRange(ctx context.Context, rng period.Range) ([]Month, error) {
	months, err := r.ListMonths(ctx)
	if err != nil {
		return nil, err
	}
	var out []Month
	for _, m := range months {
		if rng.Contains(m.YearMonth) {
			out = append(out, m)
		}
	}
	return out, nil
}

// Ping reports whether the manifest is reachable through the provider.
func (r *Resolver) Ping(ctx context.Context) error {
	ok, err := r.provider.Exists(ctx, r.manifestPath)
	if err != nil {
		return fmt.Errorf("probe manifest %s: %w", r.manifestPath, err)
	}
	if !ok {
		return fmt.Errorf("manifest %s: %w", r.manifestPath, fetch.ErrNotFound)
	}
	return nil
}

// Invalidate forgets the cached month list.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.months = nil
	r.byYM = nil
	r.mu.Unlock()
}

// Candidates expands templates for ym in priority order. An explicit manifest
// path for the month, when known, comes first.
func (r *Resolver) Candidates(ym period.YearMonth, templates []string) []string {
	vars := MonthVars(r.baseDir, ym)
	out := make([]string, 0, len(templates)+1)
	seen := make(map[string]struct{}, len(templates)+1)
	add := func(p string) {
		if p == "" {
			return
		}
		if _, dup := seen[p]; dup {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	r.mu.Lock()
	explicit := r.byYM[ym].Path
	r.mu.Unlock()
	if explicit != "" {
		add(r.withBaseDir(explicit))
	}
	for _, t := range templates {
		add(Expand(t, vars))
	}
	return out
}

// withBaseDir prefixes relative manifest paths that are not already under baseDir.
func (r *Resolver) withBaseDir(p string) string {
	p = strings.TrimPrefix(p, "/")
	if r.baseDir == "" || strings.HasPrefix(p, r.baseDir+"/") {
		return p
	}
	return r.baseDir + "/" + p
}

// Resolve probes candidates in order and returns the first existing path.
// When nothing exists the first candidate is returned so the caller's fetch
// fails with a clear not-found error.
func (r *Resolver) Resolve(ctx context.Context, ym period.YearMonth, templates []string) (string, error) {
	candidates := r.Candidates(ym, templates)
	if len(candidates) == 0 {
		return "", fmt.Errorf("no path templates configured for %s", ym)
	}
	return FirstExisting(ctx, r.provider, candidates)
}

// FirstExisting returns the first path that exists, or candidates[0] when none do.
// Probe errors are logged and treated as absence.
func FirstExisting(ctx context.Context, provider fetch.Provider, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", fmt.Errorf("no candidates to probe")
	}
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		ok, err := provider.Exists(ctx, c)
		if err != nil {
			slog.Warn("[Manifest] Existence probe failed", "path", c, "error", err)
			continue
		}
		if ok {
			return c, nil
		}
	}
	return candidates[0], nil
}
