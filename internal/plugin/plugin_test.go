package plugin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bcentdev/soku/internal/builderrors"
)

func TestRunTransformCodeChainsInOrder(t *testing.T) {
	h := NewHost()
	h.RegisterBuildPlugin(BuildPlugin{
		Name: "upper",
		TransformCode: func(code, path string, ctx Context) (string, bool) {
			return code + ":upper", true
		},
	})
	h.RegisterBuildPlugin(BuildPlugin{
		Name: "noop",
		TransformCode: func(code, path string, ctx Context) (string, bool) {
			return "", false
		},
	})
	h.RegisterBuildPlugin(BuildPlugin{
		Name: "lower",
		TransformCode: func(code, path string, ctx Context) (string, bool) {
			return code + ":lower", true
		},
	})

	out, err := h.RunTransformCode("src", "a.js", Context{})
	require.NoError(t, err)
	require.Equal(t, "src:upper:lower", out)
}

func TestRunResolveFirstNonEmptyWins(t *testing.T) {
	h := NewHost()
	h.RegisterBuildPlugin(BuildPlugin{
		Name: "miss",
		Resolve: func(specifier, importer string, ctx Context) (string, bool) {
			return "", false
		},
	})
	h.RegisterBuildPlugin(BuildPlugin{
		Name: "hit",
		Resolve: func(specifier, importer string, ctx Context) (string, bool) {
			return "/resolved.js", true
		},
	})
	h.RegisterBuildPlugin(BuildPlugin{
		Name: "also-hit",
		Resolve: func(specifier, importer string, ctx Context) (string, bool) {
			return "/should-not-win.js", true
		},
	})

	resolved, ok := h.RunResolve("x", "main.js", Context{})
	require.True(t, ok)
	require.Equal(t, "/resolved.js", resolved)
}

func TestBeforeBuildErrorWrapsAsPluginError(t *testing.T) {
	h := NewHost()
	cause := errors.New("boom")
	h.RegisterBuildPlugin(BuildPlugin{
		Name: "explode",
		BeforeBuild: func(ctx Context) error {
			return cause
		},
	})

	err := h.RunBeforeBuild(Context{})
	require.Error(t, err)
	var pe *builderrors.PluginError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "explode", pe.Name)
	require.ErrorIs(t, err, cause)
}

func TestShouldFullReloadTrueIfAnyHookSaysSo(t *testing.T) {
	h := NewHost()
	h.RegisterHMRHooks(HMRHooks{
		Name:             "a",
		ShouldFullReload: func(path string, ctx Context) bool { return false },
	})
	h.RegisterHMRHooks(HMRHooks{
		Name:             "b",
		ShouldFullReload: func(path string, ctx Context) bool { return path == "/risky.js" },
	})

	require.True(t, h.RunShouldFullReload("/risky.js", Context{}))
	require.False(t, h.RunShouldFullReload("/safe.js", Context{}))
}

func TestRegisterAfterDispatchPanics(t *testing.T) {
	h := NewHost()
	_ = h.RunBeforeBuild(Context{})

	require.Panics(t, func() {
		h.RegisterBuildPlugin(BuildPlugin{Name: "late"})
	})
}

func TestNilHooksAreSkipped(t *testing.T) {
	h := NewHost()
	h.RegisterBuildPlugin(BuildPlugin{Name: "empty"})
	h.RegisterHMRHooks(HMRHooks{Name: "empty"})

	require.NoError(t, h.RunBeforeBuild(Context{}))
	require.NoError(t, h.RunAfterBuild(Context{}, BuildSummary{}))
	out, err := h.RunTransformCode("x", "a.js", Context{})
	require.NoError(t, err)
	require.Equal(t, "x", out)
	require.False(t, h.RunShouldFullReload("a.js", Context{}))
}
