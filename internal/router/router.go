// Package router dispatches logical file operations to physical backends.
//
// The router is pure and stateless: it holds an ordered list of backend
// descriptors and, per call, either picks exactly one backend (single-path
// operations) or fans out and merges (glob, search). It performs no caching
// and no retries, keeps no session state, and is safe to share across
// sessions or rebuild at will.
package router

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"agentfs/internal/backend"
	"agentfs/internal/logging"
)

// Descriptor binds a backend to its path-scope claim and priority. Higher
// priority wins when scopes overlap.
type Descriptor struct {
	Backend  backend.Backend
	Scope    ScopeFunc
	Priority int

	// CanExecute marks backends that accept command execution. The backend
	// must also implement backend.Executor.
	CanExecute bool
}

// Router is the composite dispatcher.
type Router struct {
	descriptors []Descriptor // sorted by descending priority, stable
}

// New builds a router from descriptors. The input slice is copied and
// stably sorted by descending priority, so equal priorities keep their
// configuration order.
func New(descriptors []Descriptor) *Router {
	sorted := make([]Descriptor, len(descriptors))
	copy(sorted, descriptors)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	for _, d := range sorted {
		logging.RouterDebug("registered backend %s (priority=%d, execute=%v)",
			d.Backend.Name(), d.Priority, d.CanExecute)
	}
	return &Router{descriptors: sorted}
}

// Backends returns the descriptors in dispatch order.
func (r *Router) Backends() []Descriptor {
	out := make([]Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// route picks the first descriptor whose scope claims the path.
func (r *Router) route(op, path string) (*Descriptor, error) {
	for i := range r.descriptors {
		if r.descriptors[i].Scope(path) {
			logging.RouterDebug("%s %s -> %s", op, path, r.descriptors[i].Backend.Name())
			return &r.descriptors[i], nil
		}
	}
	return nil, backend.NewOpError(op, path, "router", backend.ErrUnroutablePath)
}

// List dispatches a directory listing.
func (r *Router) List(ctx context.Context, path string) ([]backend.Entry, error) {
	d, err := r.route("list", path)
	if err != nil {
		return nil, err
	}
	return d.Backend.List(ctx, path)
}

// Read dispatches a windowed read.
func (r *Router) Read(ctx context.Context, path string, offset, limit int) (*backend.ReadResult, error) {
	d, err := r.route("read", path)
	if err != nil {
		return nil, err
	}
	return d.Backend.Read(ctx, path, offset, limit)
}

// Write dispatches an unconditional write.
func (r *Router) Write(ctx context.Context, path, content string) (*backend.WriteResult, error) {
	d, err := r.route("write", path)
	if err != nil {
		return nil, err
	}
	return d.Backend.Write(ctx, path, content)
}

// Edit dispatches a string replacement.
func (r *Router) Edit(ctx context.Context, path, oldStr, newStr string, replaceAll bool) (*backend.EditResult, error) {
	d, err := r.route("edit", path)
	if err != nil {
		return nil, err
	}
	return d.Backend.Edit(ctx, path, oldStr, newStr, replaceAll)
}

// Glob fans the pattern out to every backend and merges the results:
// per-backend ordering is preserved, backends are concatenated in priority
// order, and identical path identifiers are deduplicated. Duplicates can
// only arise from overlapping scope claims, a misconfiguration the router
// tolerates rather than rejects.
func (r *Router) Glob(ctx context.Context, pattern string) ([]string, error) {
	results := make([][]string, len(r.descriptors))

	g, gctx := errgroup.WithContext(ctx)
	for i := range r.descriptors {
		i := i
		g.Go(func() error {
			matches, err := r.descriptors[i].Backend.Glob(gctx, pattern)
			if err != nil {
				return err
			}
			results[i] = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var merged []string
	for _, batch := range results {
		for _, p := range batch {
			key := normalize(p)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, p)
		}
	}
	logging.RouterDebug("glob %s: %d matches across %d backends", pattern, len(merged), len(r.descriptors))
	return merged, nil
}

// Search fans out like Glob and merges matches with the same ordering and
// dedup rules, keyed by path and line.
func (r *Router) Search(ctx context.Context, pattern, pathScope, globFilter string) ([]backend.SearchMatch, error) {
	results := make([][]backend.SearchMatch, len(r.descriptors))

	g, gctx := errgroup.WithContext(ctx)
	for i := range r.descriptors {
		i := i
		if pathScope != "" && !r.descriptors[i].Scope(pathScope) {
			continue
		}
		g.Go(func() error {
			matches, err := r.descriptors[i].Backend.Search(gctx, pattern, pathScope, globFilter)
			if err != nil {
				return err
			}
			results[i] = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	type matchKey struct {
		path string
		line int
	}
	seen := make(map[matchKey]struct{})
	var merged []backend.SearchMatch
	for _, batch := range results {
		for _, m := range batch {
			key := matchKey{normalize(m.Path), m.Line}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, m)
		}
	}
	return merged, nil
}

// Execute routes a command to the highest-priority execute-capable backend
// whose scope claims workdir (every capable backend when workdir is empty).
func (r *Router) Execute(ctx context.Context, command, workdir string) (*backend.ExecResult, error) {
	for i := range r.descriptors {
		d := &r.descriptors[i]
		if !d.CanExecute {
			continue
		}
		if workdir != "" && !d.Scope(workdir) {
			continue
		}
		exec, ok := d.Backend.(backend.Executor)
		if !ok {
			logging.RouterWarn("backend %s flagged executable but lacks Execute", d.Backend.Name())
			continue
		}
		logging.Router("execute -> %s: %s", d.Backend.Name(), command)
		return exec.Execute(ctx, command)
	}
	return nil, backend.NewOpError("execute", workdir, "router", backend.ErrCapabilityUnsupported)
}
