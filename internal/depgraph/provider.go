package depgraph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Provider computes further dependency specs for an artifact at scan time.
type Provider interface {
	Specs(ctx context.Context, outer *Node, spec Spec) ([]Spec, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, outer *Node, spec Spec) ([]Spec, error)

func (f ProviderFunc) Specs(ctx context.Context, outer *Node, spec Spec) ([]Spec, error) {
	return f(ctx, outer, spec)
}

// Registry maps provider names to implementations.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns a registry holding the built-in providers.
func NewRegistry() *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	_ = r.Register("directory", DirectoryProvider{})
	return r
}

// Register adds a provider. Names are unique.
func (r *Registry) Register(name string, p Provider) error {
	if name == "" || p == nil {
		return fmt.Errorf("provider needs a name and an implementation")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %s already registered", name)
	}
	r.providers[name] = p
	return nil
}

// Get looks up a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names lists registered providers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DirectoryProvider lists artifacts in a directory on disk. Args: "dir"
// (relative paths resolve against the outer artifact's directory) and an
// optional "glob" (default "*.zip").
type DirectoryProvider struct{}

func (DirectoryProvider) Specs(_ context.Context, outer *Node, spec Spec) ([]Spec, error) {
	dir := spec.Args["dir"]
	if dir == "" {
		return nil, fmt.Errorf("directory provider needs a dir argument")
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(filepath.Dir(outer.Path), dir)
	}
	pattern := spec.Args["glob"]
	if pattern == "" {
		pattern = "*.zip"
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	out := make([]Spec, 0, len(matches))
	for _, m := range matches {
		if fi, err := os.Stat(m); err != nil || !fi.Mode().IsRegular() {
			continue
		}
		abs, err := filepath.Abs(m)
		if err != nil {
			return nil, err
		}
		out = append(out, Spec{File: abs})
	}
	return out, nil
}
