// Package config loads knot runtime configuration from CUE or YAML files.
//
// Both formats are unified with an embedded CUE schema (schema.cue) that
// supplies defaults and rejects unknown fields and invalid values before
// the result is decoded into Config.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Executor names accepted by the scheduler section.
const (
	ExecutorInline = "inline"
	ExecutorSerial = "serial"
)

// Config is the runtime configuration of a knot process.
type Config struct {
	Name      string    `json:"name" yaml:"name"`
	Log       Log       `json:"log" yaml:"log"`
	Scheduler Scheduler `json:"scheduler" yaml:"scheduler"`
	Journal   Journal   `json:"journal" yaml:"journal"`
	Metrics   Metrics   `json:"metrics" yaml:"metrics"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Scheduler selects the publication (observe) and reducer (reduce) executors.
type Scheduler struct {
	Observe string `json:"observe" yaml:"observe"`
	Reduce  string `json:"reduce" yaml:"reduce"`
}

// Journal configures the SQLite transition journal.
type Journal struct {
	Path string `json:"path" yaml:"path"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Addr string `json:"addr" yaml:"addr"`
}

// Error is a configuration error with the CUE position, if known.
type Error struct {
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// Default returns the configuration with every default applied.
func Default() Config {
	cfg, err := decode(cuecontext.New(), nil)
	if err != nil {
		// The embedded schema is static; failing here is a build defect
		panic(fmt.Sprintf("config: invalid embedded schema: %v", err))
	}
	return cfg
}

// Load reads a .cue, .yaml or .yml file and validates it against the schema.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".cue":
		return Parse(data, FormatCUE, path)
	case ".yaml", ".yml":
		return Parse(data, FormatYAML, path)
	default:
		return Config{}, fmt.Errorf("unsupported config extension %q (want .cue, .yaml or .yml)", ext)
	}
}

// Format is a configuration source format.
type Format int

const (
	FormatCUE Format = iota
	FormatYAML
)

// Parse validates configuration source. name is used in error positions.
func Parse(data []byte, format Format, name string) (Config, error) {
	ctx := cuecontext.New()

	var v cue.Value
	switch format {
	case FormatCUE:
		v = ctx.CompileBytes(data, cue.Filename(name))
	case FormatYAML:
		var m map[string]any
		if err := yaml.Unmarshal(data, &m); err != nil {
			return Config{}, &Error{Message: fmt.Sprintf("%s: parse yaml: %v", name, err)}
		}
		if m == nil {
			m = map[string]any{}
		}
		v = ctx.Encode(m)
	default:
		return Config{}, fmt.Errorf("unknown config format %d", format)
	}

	if err := v.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}
	return decode(ctx, &v)
}

// decode unifies src (nil for none) with the schema and decodes the result.
func decode(ctx *cue.Context, src *cue.Value) (Config, error) {
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config"))
	if src != nil {
		v = v.Unify(*src)
	}

	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, formatCUEError(err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return Config{}, formatCUEError(err)
	}
	return cfg, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Message: err.Error()}
	}

	// Return first error with position info
	first := errs[0]
	out := &Error{Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		out.Pos = positions[0]
	}
	return out
}
