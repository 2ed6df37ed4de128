package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, Config{
		Name:      "knot",
		Log:       Log{Level: "info", Format: "text"},
		Scheduler: Scheduler{Observe: ExecutorInline, Reduce: ExecutorInline},
	}, cfg)
}

func TestLoad_CUE(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "full.cue"))
	require.NoError(t, err)

	assert.Equal(t, Config{
		Name:      "checkout",
		Log:       Log{Level: "debug", Format: "json"},
		Scheduler: Scheduler{Observe: ExecutorSerial, Reduce: ExecutorSerial},
		Journal:   Journal{Path: "/tmp/knot.db"},
		Metrics:   Metrics{Addr: ":9090"},
	}, cfg)
}

func TestLoad_YAMLAppliesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "partial.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "loader", cfg.Name)
	assert.Equal(t, ExecutorSerial, cfg.Scheduler.Observe)
	assert.Equal(t, ExecutorInline, cfg.Scheduler.Reduce, "default")
	assert.Equal(t, "info", cfg.Log.Level, "default")
	assert.Equal(t, "loader.db", cfg.Journal.Path)
}

func TestLoad_InvalidValue(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "invalid.yaml"))
	require.Error(t, err)

	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "observe")
}

func TestLoad_UnknownField(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "unknown.cue"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retries")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "missing.cue"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`name = "x"`), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "unsupported config extension")
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		format  Format
		wantErr bool
		check   func(t *testing.T, cfg Config)
	}{
		{
			name:   "empty yaml",
			src:    "",
			format: FormatYAML,
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, Default(), cfg)
			},
		},
		{
			name:   "cue log only",
			src:    `log: level: "warn"`,
			format: FormatCUE,
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, "warn", cfg.Log.Level)
				assert.Equal(t, "text", cfg.Log.Format)
			},
		},
		{
			name:    "empty name",
			src:     `name: ""`,
			format:  FormatCUE,
			wantErr: true,
		},
		{
			name:    "wrong type",
			src:     "name: 42\n",
			format:  FormatYAML,
			wantErr: true,
		},
		{
			name:    "broken yaml",
			src:     "name: [unclosed\n",
			format:  FormatYAML,
			wantErr: true,
		},
		{
			name:    "broken cue",
			src:     `name: "x`,
			format:  FormatCUE,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.src), tt.format, "test")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := NewLogger(Log{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "knot", "loader")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"knot":"loader"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestOptions(t *testing.T) {
	cfg := Default()
	opts, release := Options(cfg, nil)
	release()
	assert.Len(t, opts, 1, "inline scheduling adds no executors")

	cfg.Scheduler = Scheduler{Observe: ExecutorSerial, Reduce: ExecutorSerial}
	opts, release = Options(cfg, slog.Default())
	defer release()
	assert.Len(t, opts, 4)
}
