package depgraph

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"

	"git.home.luguber.info/inful/chainloader/internal/archive"
	"git.home.luguber.info/inful/chainloader/internal/digest"
	"git.home.luguber.info/inful/chainloader/internal/foundation/errors"
	"git.home.luguber.info/inful/chainloader/internal/logfields"
	"git.home.luguber.info/inful/chainloader/internal/metrics"
	"git.home.luguber.info/inful/chainloader/internal/versioncmp"
	"git.home.luguber.info/inful/chainloader/internal/workspace"
)

// maxProviderDepth bounds providers returning provider specs.
const maxProviderDepth = 8

// Node is one id:version discovered during a scan. A node reachable along
// several paths is shared, so the graph may contain repeats.
type Node struct {
	ID       string
	Version  string
	Name     string
	Path     string
	Checksum string
	Depth    int
	Children []*Node

	// carrier is the outermost nested artifact this node was first found in.
	carrier *Node
}

func (n *Node) key() string { return n.ID + ":" + n.Version }

func (n *Node) String() string { return n.ID + " " + n.Version }

// DisplayName prefers the descriptor name.
func (n *Node) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

// Update is a resolved dependency that is already loaded at an older version
// by something outside the loader, so it cannot be swapped in this boot.
type Update struct {
	ID       string
	Active   string
	Resolved string
	Node     *Node
	// Carrier is the artifact to merge for the next boot; it ships Node.
	Carrier *Node
	// SupersededPath is the externally supplied copy that becomes obsolete.
	SupersededPath string
}

// LoadPlan is the result of one resolution.
type LoadPlan struct {
	Roots []*Node
	// Nodes holds every distinct id:version in discovery order.
	Nodes []*Node
	// Resolved is the winning node per id.
	Resolved map[string]*Node
	// Load is what should be loaded this boot, sorted by id.
	Load []*Node
	// Satisfied were skipped because the host already has them at an equal or newer version.
	Satisfied    []*Node
	NeedsRestart []Update
	Tree         string
}

// Discovered is the number of distinct id:version pairs.
func (p *LoadPlan) Discovered() int { return len(p.Nodes) }

// Unique is the number of distinct ids.
func (p *LoadPlan) Unique() int { return len(p.Resolved) }

// RestartRequired reports whether any dependency needs another boot.
func (p *LoadPlan) RestartRequired() bool { return len(p.NeedsRestart) > 0 }

// Resolver scans artifact trees.
type Resolver struct {
	arena        *workspace.Arena
	providers    *Registry
	active       ActiveSet
	monolithicID string
	recorder     metrics.Recorder
}

type Option func(*Resolver)

func WithProviders(reg *Registry) Option {
	return func(r *Resolver) { r.providers = reg }
}

func WithActiveSet(set ActiveSet) Option {
	return func(r *Resolver) { r.active = set }
}

// WithMonolithicID names the legacy all-in-one component that loads last
// when it has no nested artifacts.
func WithMonolithicID(id string) Option {
	return func(r *Resolver) { r.monolithicID = id }
}

func WithRecorder(rec metrics.Recorder) Option {
	return func(r *Resolver) { r.recorder = rec }
}

// New returns a resolver that extracts nested artifacts into arena. The
// caller owns the arena and cleans it up once the plan has been used.
func New(arena *workspace.Arena, opts ...Option) *Resolver {
	r := &Resolver{
		arena:     arena,
		providers: NewRegistry(),
		active:    ActiveSet{},
		recorder:  metrics.NoopRecorder{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

type scan struct {
	r     *Resolver
	nodes []*Node
	byKey map[string]*Node
}

// Resolve scans each root artifact and its nested artifacts. Roots without
// a descriptor are ignored.
func (r *Resolver) Resolve(ctx context.Context, roots ...string) (*LoadPlan, error) {
	s := &scan{r: r, byKey: make(map[string]*Node)}
	plan := &LoadPlan{}
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, errors.WrapError(err, errors.CategoryFileSystem, "invalid artifact path").
				WithContext("path", root).Build()
		}
		n, err := s.load(ctx, nil, abs, nil)
		if err != nil {
			return nil, err
		}
		if n != nil {
			plan.Roots = append(plan.Roots, n)
		}
	}
	plan.Nodes = s.nodes
	plan.Resolved = dedupe(s.nodes)
	ordered := loadOrder(plan.Resolved, r.monolithicID)
	r.classify(plan, ordered)
	plan.Tree = Render(plan.Roots, plan.Resolved)

	slog.Info(fmt.Sprintf("Discovered %d artifacts (%d unique)", plan.Discovered(), plan.Unique()),
		slog.Int("load", len(plan.Load)),
		slog.Int("needs_restart", len(plan.NeedsRestart)))
	if plan.Tree != "" {
		slog.Debug("Dependency tree\n" + plan.Tree)
	}
	return plan, nil
}

func (s *scan) load(ctx context.Context, parent *Node, path string, spec *Spec) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, err := readDescriptor(path)
	if err != nil {
		if errors.HasCategory(err, errors.CategoryValidation) {
			slog.Warn("Skipping artifact with unreadable descriptor", logfields.Path(path), logfields.Error(err))
			return nil, nil
		}
		return nil, err
	}
	if d == nil && spec != nil {
		d = fromSpec(*spec)
	}
	if d == nil {
		slog.Debug("Artifact has no descriptor", logfields.Path(path))
		return nil, nil
	}
	if d.SchemaRevision > 0 {
		slog.Warn("Unsupported descriptor schema revision", logfields.Path(path), slog.Int("schema_revision", d.SchemaRevision))
		return nil, nil
	}
	if d.ID == "" || d.Version == "" {
		slog.Warn("Descriptor without id or version", logfields.Path(path))
		return nil, nil
	}

	key := d.ID + ":" + d.Version
	if existing, ok := s.byKey[key]; ok {
		if parent != nil {
			parent.Children = append(parent.Children, existing)
		}
		return existing, nil
	}

	n := &Node{ID: d.ID, Version: d.Version, Name: d.Name, Path: path}
	if parent != nil {
		n.Depth = parent.Depth + 1
		n.carrier = parent.carrier
		if parent.Depth == 0 {
			n.carrier = n
		}
		parent.Children = append(parent.Children, n)
	} else {
		n.carrier = n
	}
	if sum, err := digest.File(path, digest.SHA256); err == nil {
		n.Checksum = sum
	}
	s.byKey[key] = n
	s.nodes = append(s.nodes, n)

	for _, js := range d.Jars {
		if err := s.dependency(ctx, n, js, 0); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (s *scan) dependency(ctx context.Context, outer *Node, spec Spec, depth int) error {
	name := spec.Provider
	if name == "" {
		name = spec.Builtin
	}
	if name != "" {
		if depth >= maxProviderDepth {
			slog.Warn("Provider chain too deep", logfields.Path(outer.Path), slog.String("provider", name))
			return nil
		}
		p, ok := s.r.providers.Get(name)
		if !ok {
			slog.Warn("Unknown dependency provider", logfields.Path(outer.Path), slog.String("provider", name))
			return nil
		}
		specs, err := p.Specs(ctx, outer, spec)
		if err != nil {
			slog.Warn("Dependency provider failed", logfields.Path(outer.Path), slog.String("provider", name), logfields.Error(err))
			return nil
		}
		for _, next := range specs {
			if err := s.dependency(ctx, outer, next, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	if spec.File == "" {
		slog.Warn("Dependency spec names neither file nor provider", logfields.Path(outer.Path))
		return nil
	}
	path := spec.File
	if !filepath.IsAbs(path) {
		extracted, err := s.extract(outer, spec.File)
		if err != nil {
			if stderrors.Is(err, fs.ErrNotExist) {
				slog.Warn("Nested artifact missing", logfields.Path(outer.Path), slog.String("entry", spec.File))
				return nil
			}
			return err
		}
		path = extracted
	}
	_, err := s.load(ctx, outer, path, &spec)
	return err
}

func (s *scan) extract(outer *Node, entry string) (string, error) {
	a, err := archive.Open(outer.Path)
	if err != nil {
		return "", err
	}
	defer func() { _ = a.Close() }()
	if !a.Has(entry) {
		return "", fmt.Errorf("%s: %w", entry, fs.ErrNotExist)
	}
	f, err := s.r.arena.Create(entry)
	if err != nil {
		return "", err
	}
	if err := a.ExtractTo(entry, f); err != nil {
		_ = f.Close()
		return "", errors.WrapError(err, errors.CategoryFileSystem, "failed to extract nested artifact").
			WithContext("path", outer.Path).WithContext("entry", entry).Build()
	}
	if err := f.Close(); err != nil {
		return "", errors.WrapError(err, errors.CategoryFileSystem, "failed to extract nested artifact").Build()
	}
	slog.Debug("Extracted nested artifact", slog.String("entry", entry), logfields.Path(f.Name()))
	return f.Name(), nil
}

// dedupe keeps the highest version per id; on equal versions the node
// discovered first stays.
func dedupe(nodes []*Node) map[string]*Node {
	latest := make(map[string]*Node)
	for _, n := range nodes {
		cur, ok := latest[n.ID]
		if !ok || versioncmp.Compare(n.Version, cur.Version) > 0 {
			latest[n.ID] = n
		}
	}
	return latest
}

func loadOrder(resolved map[string]*Node, monolithicID string) []*Node {
	out := make([]*Node, 0, len(resolved))
	for _, n := range resolved {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if monolithicID == "" {
		return out
	}
	for i, n := range out {
		if n.ID == monolithicID && len(n.Children) == 0 {
			out = append(append(out[:i:i], out[i+1:]...), n)
			break
		}
	}
	return out
}

func (r *Resolver) classify(plan *LoadPlan, ordered []*Node) {
	for _, n := range ordered {
		a, loaded := r.active[n.ID]
		if !loaded {
			plan.Load = append(plan.Load, n)
			continue
		}
		if versioncmp.Compare(a.Version, n.Version) >= 0 {
			slog.Debug("Dependency already loaded at an equal or newer version",
				logfields.Dependency(n.ID), logfields.Version(n.Version), slog.String("active", a.Version))
			plan.Satisfied = append(plan.Satisfied, n)
			continue
		}
		slog.Info("Older dependency already loaded, restart required",
			logfields.Dependency(n.ID), logfields.Version(n.Version), slog.String("active", a.Version))
		r.recorder.IncDependencyConflict(n.ID)
		plan.NeedsRestart = append(plan.NeedsRestart, Update{
			ID:             n.ID,
			Active:         a.Version,
			Resolved:       n.Version,
			Node:           n,
			Carrier:        n.carrier,
			SupersededPath: a.Path,
		})
	}
}
