package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/knot/internal/apps"
	"github.com/roach88/knot/internal/engine"
	"github.com/roach88/knot/internal/ir"
)

// AppInfo describes a bundled application.
type AppInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Changes     []ir.Tag `json:"changes"`
}

// NewAppsCommand creates the apps command.
func NewAppsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apps",
		Short: "List the bundled applications",
		Long: `List the applications "knot run" and scenarios can start, with the
change tags each one accepts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApps(rootOpts, cmd)
		},
	}
}

func runApps(opts *RootOptions, cmd *cobra.Command) error {
	f := formatter(opts, cmd)
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	infos := make([]AppInfo, 0, len(apps.Names()))
	for _, app := range apps.All() {
		// Sessions are never run; building one only reads its change table
		s, err := app.New(apps.Env{}, engine.WithLogger(quiet))
		if err != nil {
			return f.Fail(ExitFailure, ErrCodeApp, fmt.Sprintf("build %s", app.Name), err)
		}
		infos = append(infos, AppInfo{Name: app.Name, Description: app.Description, Changes: s.Changes()})
	}

	return f.Success(infos, func(w io.Writer) {
		for _, info := range infos {
			fmt.Fprintf(w, "%s\n  %s\n  changes: %v\n", info.Name, info.Description, info.Changes)
		}
	})
}
