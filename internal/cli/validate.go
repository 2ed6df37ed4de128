package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/knot/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool           `json:"valid"`
	Path   string         `json:"path"`
	Config *config.Config `json:"config,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a configuration file",
		Long: `Validate a .cue, .yaml or .yml configuration file against the embedded
schema and print the effective configuration with defaults applied.

Exit codes:
  0 - Configuration is valid
  1 - Configuration is invalid
  2 - File not found or unsupported extension`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := formatter(opts, cmd)

	if _, err := os.Stat(path); err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "config file not found", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		var cfgErr *config.Error
		if !errors.As(err, &cfgErr) {
			return f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
		}

		result := ValidationResult{Valid: false, Path: path, Error: cfgErr.Error()}
		if outErr := f.Success(result, func(w io.Writer) {
			fmt.Fprintf(w, "✗ %s\n  %s\n", path, cfgErr.Error())
		}); outErr != nil {
			return outErr
		}
		return &ExitError{Code: ExitFailure, Message: "invalid config", Err: err, Reported: true}
	}

	f.VerboseLog("validated %s", path)
	result := ValidationResult{Valid: true, Path: path, Config: &cfg}
	return f.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %s\n", path)
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return
		}
		_, _ = w.Write(out)
	})
}
