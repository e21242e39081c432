package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aevon-lab/orderlens/internal/core/period"
	"github.com/aevon-lab/orderlens/internal/core/source"
	"github.com/aevon-lab/orderlens/internal/core/telemetry"
	"github.com/aevon-lab/orderlens/internal/fetch"
	"github.com/aevon-lab/orderlens/internal/manifest"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL                   = 5 * time.Minute
	DefaultDailyLookbackDays     = 120
	DefaultMonthlyLookbackMonths = 24
)

// Options configures a Repository. Zero values use the defaults.
type Options struct {
	TTL time.Duration

	// ResolveInterval is how long a resolved catalog path is reused before the
	// fallback chain is probed again. Defaults to TTL.
	ResolveInterval       time.Duration
	DailyLookbackDays     int
	MonthlyLookbackMonths int
}

// Repository resolves and caches the current catalog snapshot.
type Repository struct {
	provider fetch.Provider
	files    source.CatalogFiles
	baseDir  string
	opts     Options
	nowFn    func() time.Time

	mu        sync.RWMutex
	cached    *Snapshot
	expiresAt time.Time
	selective *Snapshot

	resolvedPath  string
	resolvedUntil time.Time

	loadGroup singleflight.Group
}

// NewRepository creates a catalog repository for one data source.
func NewRepository(provider fetch.Provider, files source.CatalogFiles, baseDir string, opts Options) *Repository {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.ResolveInterval <= 0 {
		opts.ResolveInterval = opts.TTL
	}
	if opts.DailyLookbackDays == 0 {
		opts.DailyLookbackDays = DefaultDailyLookbackDays
	}
	if opts.MonthlyLookbackMonths == 0 {
		opts.MonthlyLookbackMonths = DefaultMonthlyLookbackMonths
	}
	return &Repository{
		provider: provider,
		files:    files,
		baseDir:  baseDir,
		opts:     opts,
		nowFn:    time.Now,
	}
}

// LoadCurrentCatalog returns the active snapshot. Within the TTL, and while
// the resolved path is unchanged, the same *Snapshot is returned. The path is
// re-resolved at most once per ResolveInterval.
// A selective subset, when set, takes precedence until ResetToFullCache.
func (r *Repository) LoadCurrentCatalog(ctx context.Context) (*Snapshot, error) {
	r.mu.RLock()
	selective := r.selective
	r.mu.RUnlock()
	if selective != nil {
		telemetry.CatalogLoads.WithLabelValues("selective").Inc()
		return selective, nil
	}

	path, err := r.currentPath(ctx)
	if err != nil {
		telemetry.CatalogLoads.WithLabelValues("error").Inc()
		return nil, err
	}

	if snap := r.fresh(path); snap != nil {
		telemetry.CatalogLoads.WithLabelValues("hit").Inc()
		return snap, nil
	}

	result, err, _ := r.loadGroup.Do(path, func() (interface{}, error) {
		if snap := r.fresh(path); snap != nil {
			return snap, nil
		}

		data, err := r.provider.Fetch(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("fetch catalog %s: %w", path, err)
		}
		products, dropped, err := parseProducts(data)
		if err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", path, err)
		}

		now := r.nowFn()
		snap := newSnapshot(path, products, now, false)

		r.mu.Lock()
		r.cached = snap
		r.expiresAt = now.Add(r.opts.TTL)
		r.mu.Unlock()

		slog.Info("[Catalog] Loaded snapshot", "path", path, "products", len(products), "dropped_without_id", dropped)
		return snap, nil
	})
	if err != nil {
		telemetry.CatalogLoads.WithLabelValues("error").Inc()
		return nil, err
	}
	telemetry.CatalogLoads.WithLabelValues("miss").Inc()
	return result.(*Snapshot), nil
}

// currentPath returns the remembered catalog path, walking the fallback chain
// once it is older than ResolveInterval.
func (r *Repository) currentPath(ctx context.Context) (string, error) {
	r.mu.RLock()
	path, until := r.resolvedPath, r.resolvedUntil
	r.mu.RUnlock()
	if path != "" && r.nowFn().Before(until) {
		return path, nil
	}

	path, err := r.resolvePath(ctx)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.resolvedPath = path
	r.resolvedUntil = r.nowFn().Add(r.opts.ResolveInterval)
	r.mu.Unlock()
	return path, nil
}

func (r *Repository) fresh(path string) *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cached != nil && r.cached.Path == path && r.nowFn().Before(r.expiresAt) {
		return r.cached
	}
	return nil
}

// SearchProducts searches the current snapshot.
func (r *Repository) SearchProducts(ctx context.Context, text string, filters Filters) ([]Match, error) {
	snap, err := r.LoadCurrentCatalog(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Search(text, filters), nil
}

// Facets returns the facet hierarchy of the current snapshot.
func (r *Repository) Facets(ctx context.Context) (Facets, error) {
	snap, err := r.LoadCurrentCatalog(ctx)
	if err != nil {
		return Facets{}, err
	}
	return snap.Facets(), nil
}

// UseSelective replaces the in-memory catalog with products until ResetToFullCache.
func (r *Repository) UseSelective(products []Product) *Snapshot {
	snap := newSnapshot("selective", append([]Product(nil), products...), r.nowFn(), true)
	r.mu.Lock()
	r.selective = snap
	r.cached = nil
	r.mu.Unlock()
	slog.Info("[Catalog] Using selective cache", "products", len(products))
	return snap
}

// ResetToFullCache drops the selective subset; the next load fetches the full catalog.
func (r *Repository) ResetToFullCache() {
	r.mu.Lock()
	r.selective = nil
	r.cached = nil
	r.resolvedPath = ""
	r.mu.Unlock()
}

// Invalidate drops the cached snapshot and the resolved path.
func (r *Repository) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.resolvedPath = ""
	r.mu.Unlock()
}

// resolvePath walks the fallback chain: override, current, daily files probed
// backward, monthly archives probed backward, then current regardless.
func (r *Repository) resolvePath(ctx context.Context) (string, error) {
	vars := manifest.Vars{BaseDir: r.baseDir}
	override := manifest.Expand(r.files.Override, vars)
	current := manifest.Expand(r.files.Current, vars)

	for _, p := range []string{override, current} {
		if p != "" && r.exists(ctx, p) {
			return p, nil
		}
	}

	now := r.nowFn()
	if r.files.DailyTemplate != "" {
		for d := 0; d < r.opts.DailyLookbackDays; d++ {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			p := manifest.Expand(r.files.DailyTemplate, manifest.DayVars(r.baseDir, now.AddDate(0, 0, -d)))
			if r.exists(ctx, p) {
				return p, nil
			}
		}
	}
	if r.files.MonthlyTemplate != "" {
		month := period.Of(now)
		for m := 0; m < r.opts.MonthlyLookbackMonths; m++ {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			p := manifest.Expand(r.files.MonthlyTemplate, manifest.MonthVars(r.baseDir, month.AddMonths(-m)))
			if r.exists(ctx, p) {
				return p, nil
			}
		}
	}

	switch {
	case current != "":
		return current, nil
	case override != "":
		return override, nil
	}
	return "", fmt.Errorf("no catalog location configured")
}

func (r *Repository) exists(ctx context.Context, p string) bool {
	ok, err := r.provider.Exists(ctx, p)
	if err != nil {
		slog.Warn("[Catalog] Existence probe failed", "path", p, "error", err)
		return false
	}
	return ok
}
