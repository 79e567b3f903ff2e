// Package plugin implements C9: two ordered, immutable-for-the-duration-
// of-a-build registries — build plugins and HMR hooks — dispatched at the
// documented points in the pipeline (spec.md §4.9). There is no library in
// the example pack that targets a plugin-host concern this shape; the
// registry here is a plain ordered slice, grounded on the capability-record
// sketch in original_source/src/core/plugin.rs and the optional-method
// plugin shape esbuild's pkg/api exposes to its own callers.
package plugin

import (
	"github.com/bcentdev/soku/internal/builderrors"
)

// Context is the read-only view handed to every hook: plugins have no side
// access to the graph (spec.md §4.9).
type Context struct {
	Root    string
	Config  map[string]string
	Modules []string // snapshot of module paths at dispatch time
}

// BuildPlugin exposes optional operations. A plugin leaves a method nil to
// skip it; the host only calls methods that are set.
type BuildPlugin struct {
	Name string

	BeforeBuild      func(ctx Context) error
	AfterBuild       func(ctx Context, result BuildSummary) error
	OnModulesResolved func(modules []string, ctx Context) error
	Resolve          func(specifier, importer string, ctx Context) (string, bool)
	TransformCode    func(code, path string, ctx Context) (string, bool)
}

// BuildSummary is the minimal result shape after_build hooks observe.
// pkg/api.BuildResult carries the full shape; this is the subset plugins
// see.
type BuildSummary struct {
	ModuleCount int
	Errors      []string
}

// HMRHooks exposes the update-cycle hooks around an HMR broadcast
// (spec.md §4.8).
type HMRHooks struct {
	Name string

	BeforeUpdate       func(path string, ctx Context) error
	AfterUpdate        func(path string, ctx Context) error
	TransformContent   func(path, content string, ctx Context) (string, bool)
	ShouldFullReload   func(path string, ctx Context) bool
	OnClientConnect    func(clientID string, ctx Context)
	OnClientDisconnect func(clientID string, ctx Context)
	OnUpdateError      func(path string, err error, ctx Context)
}

// Host holds the two ordered, append-only registries. A Host is built once
// per build/dev session and is immutable for its duration: Register may
// only be called before the first Dispatch*/Run* call.
type Host struct {
	buildPlugins []BuildPlugin
	hmrHooks     []HMRHooks
	started      bool
}

func NewHost() *Host {
	return &Host{}
}

func (h *Host) RegisterBuildPlugin(p BuildPlugin) {
	if h.started {
		panic("plugin: cannot register after dispatch has begun")
	}
	h.buildPlugins = append(h.buildPlugins, p)
}

func (h *Host) RegisterHMRHooks(hooks HMRHooks) {
	if h.started {
		panic("plugin: cannot register after dispatch has begun")
	}
	h.hmrHooks = append(h.hmrHooks, hooks)
}

func (h *Host) begin() { h.started = true }

// RunBeforeBuild runs every plugin's before_build in registration order.
// The first error fails the build and stops dispatch, wrapped as a
// PluginError naming the offending plugin.
func (h *Host) RunBeforeBuild(ctx Context) error {
	h.begin()
	for _, p := range h.buildPlugins {
		if p.BeforeBuild == nil {
			continue
		}
		if err := p.BeforeBuild(ctx); err != nil {
			return &builderrors.PluginError{Name: p.Name, Cause: err}
		}
	}
	return nil
}

func (h *Host) RunAfterBuild(ctx Context, result BuildSummary) error {
	h.begin()
	for _, p := range h.buildPlugins {
		if p.AfterBuild == nil {
			continue
		}
		if err := p.AfterBuild(ctx, result); err != nil {
			return &builderrors.PluginError{Name: p.Name, Cause: err}
		}
	}
	return nil
}

func (h *Host) RunOnModulesResolved(modules []string, ctx Context) error {
	h.begin()
	for _, p := range h.buildPlugins {
		if p.OnModulesResolved == nil {
			continue
		}
		if err := p.OnModulesResolved(modules, ctx); err != nil {
			return &builderrors.PluginError{Name: p.Name, Cause: err}
		}
	}
	return nil
}

// RunResolve returns the first non-empty result from a plugin's Resolve
// hook, in registration order (spec.md §4.9: "first non-empty result
// wins").
func (h *Host) RunResolve(specifier, importer string, ctx Context) (string, bool) {
	h.begin()
	for _, p := range h.buildPlugins {
		if p.Resolve == nil {
			continue
		}
		if resolved, ok := p.Resolve(specifier, importer, ctx); ok {
			return resolved, true
		}
	}
	return "", false
}

// RunTransformCode chains transform_code across every plugin in
// registration order; each plugin sees the previous one's output, and a
// plugin returning ok=false leaves the code unchanged (spec.md §4.9: "A
// returning None/'unchanged' sentinel must be respected").
func (h *Host) RunTransformCode(code, path string, ctx Context) (string, error) {
	h.begin()
	for _, p := range h.buildPlugins {
		if p.TransformCode == nil {
			continue
		}
		if next, ok := p.TransformCode(code, path, ctx); ok {
			code = next
		}
	}
	return code, nil
}

func (h *Host) RunBeforeUpdate(path string, ctx Context) error {
	h.begin()
	for _, hook := range h.hmrHooks {
		if hook.BeforeUpdate == nil {
			continue
		}
		if err := hook.BeforeUpdate(path, ctx); err != nil {
			return &builderrors.PluginError{Name: hook.Name, Cause: err}
		}
	}
	return nil
}

func (h *Host) RunAfterUpdate(path string, ctx Context) error {
	h.begin()
	for _, hook := range h.hmrHooks {
		if hook.AfterUpdate == nil {
			continue
		}
		if err := hook.AfterUpdate(path, ctx); err != nil {
			return &builderrors.PluginError{Name: hook.Name, Cause: err}
		}
	}
	return nil
}

func (h *Host) RunTransformContent(path, content string, ctx Context) string {
	h.begin()
	for _, hook := range h.hmrHooks {
		if hook.TransformContent == nil {
			continue
		}
		if next, ok := hook.TransformContent(path, content, ctx); ok {
			content = next
		}
	}
	return content
}

// RunShouldFullReload returns true if any registered hook demands a full
// reload for path.
func (h *Host) RunShouldFullReload(path string, ctx Context) bool {
	h.begin()
	for _, hook := range h.hmrHooks {
		if hook.ShouldFullReload == nil {
			continue
		}
		if hook.ShouldFullReload(path, ctx) {
			return true
		}
	}
	return false
}

func (h *Host) RunOnClientConnect(clientID string, ctx Context) {
	h.begin()
	for _, hook := range h.hmrHooks {
		if hook.OnClientConnect != nil {
			hook.OnClientConnect(clientID, ctx)
		}
	}
}

func (h *Host) RunOnClientDisconnect(clientID string, ctx Context) {
	h.begin()
	for _, hook := range h.hmrHooks {
		if hook.OnClientDisconnect != nil {
			hook.OnClientDisconnect(clientID, ctx)
		}
	}
}

func (h *Host) RunOnUpdateError(path string, err error, ctx Context) {
	h.begin()
	for _, hook := range h.hmrHooks {
		if hook.OnUpdateError != nil {
			hook.OnUpdateError(path, err, ctx)
		}
	}
}
