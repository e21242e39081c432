package source

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition describes one logical data source: where its manifest lives, how a
// month expands into partition file paths, and where the catalog is published.
// Definitions are loaded at startup from YAML files and fingerprinted.
type Definition struct {
	Name        string
	BaseDir     string
	Manifest    string
	Orders      OrderFiles
	Catalog     CatalogFiles
	Fingerprint string // SHA-256 of the raw YAML file
}

// OrderFiles lists partition path templates in priority order.
// Templates use ${baseDir}, ${yyyy} and ${mm}.
type OrderFiles struct {
	Templates       []string `yaml:"templates"`
	HeaderTemplates []string `yaml:"header_templates"`
	LineTemplates   []string `yaml:"line_templates"`
}

// Paired reports whether months are published as a header CSV plus a line CSV.
func (o OrderFiles) Paired() bool {
	return len(o.HeaderTemplates) > 0 && len(o.LineTemplates) > 0
}

// CatalogFiles lists catalog locations. DailyTemplate also understands ${dd}.
type CatalogFiles struct {
	Override        string `yaml:"override"`
	Current         string `yaml:"current"`
	DailyTemplate   string `yaml:"daily_template"`
	MonthlyTemplate string `yaml:"monthly_template"`
}

// rawDefinition is the on-disk YAML shape.
type rawDefinition struct {
	Name     string       `yaml:"name"`
	BaseDir  string       `yaml:"base_dir"`
	Manifest string       `yaml:"manifest"`
	Orders   OrderFiles   `yaml:"orders"`
	Catalog  CatalogFiles `yaml:"catalog"`
}

// Repository looks up data source definitions.
type Repository interface {
	Get(ctx context.Context, name string) (*Definition, error)
	List() []Definition
}

// FileSystemRepository loads definitions from *.yaml files in a directory,
// one definition per file. No hot reload.
type FileSystemRepository struct {
	dir         string
	definitions map[string]Definition
}

// NewFileSystemRepository eagerly loads every definition in dir.
func NewFileSystemRepository(dir string) (*FileSystemRepository, error) {
	repo := &FileSystemRepository{
		dir:         dir,
		definitions: make(map[string]Definition),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FileSystemRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("source definition dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source definition path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading source definition dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading source file %s: %w", path, err)
		}

		def, err := Parse(data)
		if err != nil {
			return fmt.Errorf("source file %s: %w", path, err)
		}
		if def == nil {
			continue // comment-only file
		}
		if _, exists := r.definitions[def.Name]; exists {
			return fmt.Errorf("source %q: duplicate source name (check multiple YAML files)", def.Name)
		}
		r.definitions[def.Name] = *def
	}
	return nil
}

// Parse decodes and validates one definition. It returns nil, nil for a
// document without a name.
func Parse(data []byte) (*Definition, error) {
	var raw rawDefinition
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing source definition: %w", err)
	}
	if raw.Name == "" {
		return nil, nil
	}
	if raw.Manifest == "" {
		return nil, fmt.Errorf("source %q: manifest must not be empty", raw.Name)
	}
	if len(raw.Orders.Templates) == 0 && !raw.Orders.Paired() {
		return nil, fmt.Errorf("source %q: orders.templates or header_templates+line_templates required", raw.Name)
	}
	if len(raw.Orders.HeaderTemplates) > 0 != (len(raw.Orders.LineTemplates) > 0) {
		return nil, fmt.Errorf("source %q: header_templates and line_templates must be set together", raw.Name)
	}
	if raw.Catalog.Current == "" {
		return nil, fmt.Errorf("source %q: catalog.current must not be empty", raw.Name)
	}

	return &Definition{
		Name:        raw.Name,
		BaseDir:     strings.TrimRight(raw.BaseDir, "/"),
		Manifest:    raw.Manifest,
		Orders:      raw.Orders,
		Catalog:     raw.Catalog,
		Fingerprint: fmt.Sprintf("%x", sha256.Sum256(data)),
	}, nil
}

// Get returns the definition with the given name.
func (r *FileSystemRepository) Get(_ context.Context, name string) (*Definition, error) {
	def, ok := r.definitions[name]
	if !ok {
		return nil, fmt.Errorf("data source %q not found", name)
	}
	return &def, nil
}

// List returns all definitions sorted by name.
func (r *FileSystemRepository) List() []Definition {
	defs := make([]Definition, 0, len(r.definitions))
	for _, def := range r.definitions {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
