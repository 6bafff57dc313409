package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/phasekit/pkg/engine"
)

// CatalogFile is the on-disk form of a catalog.
type CatalogFile struct {
	Services       []engine.ServiceSpec `json:"services,omitempty" yaml:"services,omitempty"`
	Infrastructure []engine.InfraTarget `json:"infrastructure,omitempty" yaml:"infrastructure,omitempty"`
}

// Catalog is a file-backed engine.ServiceLookup.
type Catalog struct {
	mu       sync.RWMutex
	services map[string]*engine.ServiceSpec
	infra    map[string]*engine.InfraTarget
}

var _ engine.ServiceLookup = (*Catalog)(nil)

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		services: make(map[string]*engine.ServiceSpec),
		infra:    make(map[string]*engine.InfraTarget),
	}
}

// LoadCatalog reads catalogs from YAML, JSON or CUE files. Later files
// override entries with the same ID.
func LoadCatalog(paths ...string) (*Catalog, error) {
	c := NewCatalog()
	parser := NewCUEParser()
	for _, path := range paths {
		var cf *CatalogFile
		switch strings.ToLower(filepath.Ext(path)) {
		case ".cue":
			parsed, err := parser.ParseCatalog(path)
			if err != nil {
				return nil, err
			}
			cf = parsed
		default:
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
			}
			cf = &CatalogFile{}
			if err := yaml.Unmarshal(data, cf); err != nil {
				return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
			}
		}
		if err := c.Add(cf.Services, cf.Infrastructure); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", path, err)
		}
	}
	return c, nil
}

// Add validates and registers services and infrastructure targets.
func (c *Catalog) Add(services []engine.ServiceSpec, infra []engine.InfraTarget) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range services {
		svc := services[i]
		if svc.ID == "" {
			return fmt.Errorf("service %d has no id", i)
		}
		if err := svc.DeploymentType.Validate(); err != nil {
			return fmt.Errorf("service %s: %w", svc.ID, err)
		}
		if svc.Name == "" {
			svc.Name = svc.ID
		}
		c.services[svc.ID] = &svc
	}
	for i := range infra {
		it := infra[i]
		if it.ID == "" {
			return fmt.Errorf("infrastructure target %d has no id", i)
		}
		if it.Type == "" {
			return fmt.Errorf("infrastructure target %s has no type", it.ID)
		}
		c.infra[it.ID] = &it
	}
	return nil
}

// GetService returns a copy of the service with the given ID.
func (c *Catalog) GetService(_ context.Context, id string) (*engine.ServiceSpec, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	svc, ok := c.services[id]
	if !ok {
		return nil, engine.NewPermanentError("service not found", nil).
			WithCode(engine.ErrCodeNotFound).WithResource(id)
	}
	cp := *svc
	return &cp, nil
}

// GetInfraTarget returns a copy of the infrastructure target with the given ID.
func (c *Catalog) GetInfraTarget(_ context.Context, id string) (*engine.InfraTarget, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.infra[id]
	if !ok {
		return nil, engine.NewPermanentError("infrastructure target not found", nil).
			WithCode(engine.ErrCodeNotFound).WithResource(id)
	}
	cp := *it
	return &cp, nil
}

// ServiceIDs returns the registered service IDs, sorted.
func (c *Catalog) ServiceIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.services))
	for id := range c.services {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// With returns a catalog holding this catalog's entries overlaid with the
// inline entries of a definition.
func (c *Catalog) With(def *WorkflowDefinition) (*Catalog, error) {
	out := NewCatalog()
	if c != nil {
		c.mu.RLock()
		for id, svc := range c.services {
			out.services[id] = svc
		}
		for id, it := range c.infra {
			out.infra[id] = it
		}
		c.mu.RUnlock()
	}
	if def != nil {
		if err := out.Add(def.Services, def.Infrastructure); err != nil {
			return nil, err
		}
	}
	return out, nil
}
