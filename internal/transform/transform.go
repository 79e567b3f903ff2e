// Package transform implements C4, the per-module transform pipeline of
// spec.md §4.4: dispatch on module type, delegate to the type-specific
// adapter, then run the plugin chain over the result. It satisfies
// graph.Processor so internal/graph can delegate to it without an import
// cycle.
//
// Grounded on esbuild's internal/bundler/bundler.go per-module processing
// loop (read → parse → plugin chain → cache write), generalized to this
// spec's dispatch table.
package transform

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bcentdev/soku/internal/builderrors"
	"github.com/bcentdev/soku/internal/cssadapter"
	"github.com/bcentdev/soku/internal/graph"
	"github.com/bcentdev/soku/internal/jsadapter"
	"github.com/bcentdev/soku/internal/plugin"
)

// Transformer is the concrete graph.Processor: it dispatches by
// graph.ModuleType and, afterward, runs code through the plugin host's
// transform_code chain.
type Transformer struct {
	Plugins *plugin.Host
	PluginCtx plugin.Context
}

func New(plugins *plugin.Host, ctx plugin.Context) *Transformer {
	return &Transformer{Plugins: plugins, PluginCtx: ctx}
}

func (t *Transformer) Transform(path string, moduleType graph.ModuleType, source []byte) (graph.TransformResult, error) {
	var result graph.TransformResult
	var err error

	switch moduleType {
	case graph.TypeJavaScript:
		result, err = t.transformJS(source, jsadapter.KindJS, path)
	case graph.TypeTypeScript:
		result, err = t.transformJS(source, jsadapter.KindTS, path)
	case graph.TypeJSX:
		result, err = t.transformJS(source, jsadapter.KindJSX, path)
	case graph.TypeTSX:
		result, err = t.transformJS(source, jsadapter.KindTSX, path)
	case graph.TypeCSS:
		result, err = t.transformCSS(source, path)
	case graph.TypeJSON:
		result, err = t.transformJSON(source, path)
	case graph.TypeWASM:
		result, err = t.transformWASM(path)
	default:
		result, err = t.transformAsset(path)
	}
	if err != nil {
		return graph.TransformResult{}, err
	}

	if t.Plugins != nil {
		code, perr := t.Plugins.RunTransformCode(result.Code, path, t.PluginCtx)
		if perr != nil {
			return graph.TransformResult{}, perr
		}
		result.Code = code
	}

	return result, nil
}

func (t *Transformer) transformJS(source []byte, kind jsadapter.Kind, path string) (graph.TransformResult, error) {
	parsed, diags := jsadapter.Parse(source, kind)
	if len(diags) > 0 {
		messages := make([]string, len(diags))
		for i, d := range diags {
			messages[i] = d.Message
		}
		return graph.TransformResult{}, &builderrors.ParseError{Path: path, Diagnostics: messages}
	}
	return graph.TransformResult{
		Code:           parsed.Code,
		Imports:        parsed.Imports,
		Exports:        parsed.Exports,
		HasSideEffects: parsed.HasSideEffects,
	}, nil
}

func (t *Transformer) transformCSS(source []byte, path string) (graph.TransformResult, error) {
	result, err := cssadapter.Process(string(source), path)
	if err != nil {
		return graph.TransformResult{}, &builderrors.CSSError{Path: path, Cause: err}
	}
	return graph.TransformResult{
		Code:    result.Code,
		Imports: result.Imports,
		// A stylesheet has no named exports to shake; once its @import
		// at-rules are extracted, what's left either renders something (an
		// unconditional effect the moment it's included) or, for a module
		// that was only re-exporting other stylesheets, nothing at all.
		HasSideEffects: strings.TrimSpace(result.Code) != "",
	}, nil
}

// transformJSON wraps verbatim JSON as a default-exporting module, per
// spec.md §4.4: "wrap as `const data = <verbatim JSON>; export default
// data;` after validating parseability".
func (t *Transformer) transformJSON(source []byte, path string) (graph.TransformResult, error) {
	var probe interface{}
	if err := json.Unmarshal(source, &probe); err != nil {
		return graph.TransformResult{}, &builderrors.InvalidJSONError{Path: path, Cause: err}
	}
	code := fmt.Sprintf("const data = %s;\nexport default data;\n", string(source))
	return graph.TransformResult{
		Code:           code,
		Exports:        []string{"default"},
		HasSideEffects: false,
	}, nil
}

// transformWASM emits the lazy-loader stub spec.md §4.4 names: no
// synchronous path, the module fetches and instantiates at call time.
func (t *Transformer) transformWASM(path string) (graph.TransformResult, error) {
	code := fmt.Sprintf(`let _instance;
async function load() {
  if (_instance) return _instance;
  const resp = await fetch(%q);
  const bytes = await resp.arrayBuffer();
  const { instance } = await WebAssembly.instantiate(bytes, {});
  _instance = instance.exports;
  return _instance;
}
export default load;
`, path)
	return graph.TransformResult{
		Code:           code,
		Exports:        []string{"default"},
		HasSideEffects: false,
	}, nil
}

// transformAsset exports a URL string constant for unknown/binary module
// types; assets are never inlined (spec.md §4.4).
func (t *Transformer) transformAsset(path string) (graph.TransformResult, error) {
	code := fmt.Sprintf("export default %q;\n", path)
	return graph.TransformResult{
		Code:           code,
		Exports:        []string{"default"},
		HasSideEffects: false,
	}, nil
}
