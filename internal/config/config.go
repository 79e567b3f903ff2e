// Package config loads and merges soku's build configuration: the
// BuildConfig fields of spec.md §3, an optional ultra.config.json file,
// and .env-family files, in the precedence spec.md §6 defines (CLI flags
// override file values; file values override defaults; env files load in
// increasing precedence .env < .env.local < .env.<mode> < .env.<mode>.local).
//
// Grounded on esbuild's internal/config (flat, JSON-tagged options struct,
// no schema library) for the file-loading shape, and on
// bennypowers-cem's serve/middleware/transform/config_parser.go for the
// "missing file is not an error" pattern.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/subosito/gotenv"

	"github.com/bcentdev/soku/internal/logger"
)

// BuildConfig is the externally supplied configuration the core consumes
// (spec.md §3).
type BuildConfig struct {
	Root    string            `json:"-"`
	OutDir  string            `json:"outdir"`
	Entries map[string]string `json:"-"`
	Entry   string            `json:"entry"`

	EnableTreeShaking   bool `json:"treeShaking"`
	EnableMinification  bool `json:"minify"`
	EnableSourceMaps    bool `json:"sourceMaps"`
	EnableCodeSplitting bool `json:"codeSplitting"`
	MaxChunkSize        int  `json:"maxChunkSize"`

	Mode string `json:"target"`

	Alias        map[string]string `json:"-"`
	External     []string          `json:"-"`
	VendorChunk  bool              `json:"-"`
	DisableCache bool              `json:"-"`
}

// Default returns the baseline configuration applied before any file or
// CLI override, per spec.md §6's "file values override defaults".
func Default(root string) BuildConfig {
	return BuildConfig{
		Root:                root,
		OutDir:              "dist",
		EnableTreeShaking:   true,
		EnableMinification:  false,
		EnableSourceMaps:    false,
		EnableCodeSplitting: false,
		Mode:                "development",
		Alias:               map[string]string{},
	}
}

// fileConfig mirrors the recognized keys of ultra.config.json (spec.md
// §6); every field is optional, so pointers distinguish "absent" from
// "explicit zero value".
type fileConfig struct {
	Entry         *string `json:"entry"`
	OutDir        *string `json:"outdir"`
	Minify        *bool   `json:"minify"`
	SourceMaps    *bool   `json:"sourceMaps"`
	TreeShaking   *bool   `json:"treeShaking"`
	Target        *string `json:"target"`
	CodeSplitting *bool   `json:"codeSplitting"`
	MaxChunkSize  *int    `json:"maxChunkSize"`
}

// LoadFile reads <root>/ultra.config.json and applies any present keys
// onto cfg. A missing file is not an error (spec.md §6: the file is
// optional).
func LoadFile(cfg BuildConfig, root string) (BuildConfig, error) {
	path := filepath.Join(root, "ultra.config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}

	if fc.Entry != nil {
		cfg.Entry = *fc.Entry
	}
	if fc.OutDir != nil {
		cfg.OutDir = *fc.OutDir
	}
	if fc.Minify != nil {
		cfg.EnableMinification = *fc.Minify
	}
	if fc.SourceMaps != nil {
		cfg.EnableSourceMaps = *fc.SourceMaps
	}
	if fc.TreeShaking != nil {
		cfg.EnableTreeShaking = *fc.TreeShaking
	}
	if fc.Target != nil {
		cfg.Mode = *fc.Target
	}
	if fc.CodeSplitting != nil {
		cfg.EnableCodeSplitting = *fc.CodeSplitting
	}
	if fc.MaxChunkSize != nil {
		cfg.MaxChunkSize = *fc.MaxChunkSize
	}

	return cfg, nil
}

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// LoadEnv loads the .env family for root/mode in the precedence order of
// spec.md §6 (highest last: .env, .env.local, .env.<mode>,
// .env.<mode>.local), then injects the built-in NODE_ENV/MODE/DEV/PROD
// keys. It returns the merged key→value map; it does not mutate the
// process environment, so repeated builds in the same process (the dev
// server's rebuild loop) stay deterministic.
func LoadEnv(root, mode string, log *logger.Log) map[string]string {
	merged := map[string]string{}

	files := []string{
		filepath.Join(root, ".env"),
		filepath.Join(root, ".env.local"),
		filepath.Join(root, ".env."+mode),
		filepath.Join(root, ".env."+mode+".local"),
	}

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			continue // absent .env files are normal, not warnings
		}
		parsed, err := gotenv.StrictParse(strings.NewReader(string(data)))
		if err != nil {
			if log != nil {
				log.AddWarning(nil, fmt.Sprintf("config: %s: %v", path, err))
			}
			continue
		}
		for key, value := range parsed {
			if !envKeyPattern.MatchString(key) {
				if log != nil {
					log.AddWarning(nil, fmt.Sprintf("config: %s: ignoring invalid key %q", path, key))
				}
				continue
			}
			merged[key] = value
		}
	}

	isProd := mode == "production"
	merged["NODE_ENV"] = mode
	merged["MODE"] = mode
	merged["DEV"] = strconv.FormatBool(!isProd)
	merged["PROD"] = strconv.FormatBool(isProd)

	return merged
}

var (
	processEnvPattern  = regexp.MustCompile(`process\.env\.([A-Za-z_][A-Za-z0-9_]*)`)
	importMetaEnvRegex = regexp.MustCompile(`import\.meta\.env\.([A-Za-z_][A-Za-z0-9_]*)`)
)

// ExpandEnv rewrites process.env.<KEY> and import.meta.env.<KEY>
// occurrences in source into the JSON-encoded value of env[KEY] (spec.md
// §6). Unknown keys are left untouched so a later pass (or a runtime
// process.env shim) can still resolve them; this keeps the rewrite
// idempotent when run twice over the same source.
func ExpandEnv(source string, env map[string]string) string {
	replace := func(match, key string) string {
		value, ok := env[key]
		if !ok {
			return match
		}
		return encodeEnvLiteral(value)
	}

	source = processEnvPattern.ReplaceAllStringFunc(source, func(m string) string {
		key := processEnvPattern.FindStringSubmatch(m)[1]
		return replace(m, key)
	})
	source = importMetaEnvRegex.ReplaceAllStringFunc(source, func(m string) string {
		key := importMetaEnvRegex.FindStringSubmatch(m)[1]
		return replace(m, key)
	})

	return source
}

// encodeEnvLiteral renders value as a JS literal: true/false/numeric
// values unquoted, everything else as a JSON-quoted string (spec.md §6).
func encodeEnvLiteral(value string) string {
	switch value {
	case "true", "false":
		return value
	}
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return value
	}
	encoded, _ := json.Marshal(value)
	return string(encoded)
}
