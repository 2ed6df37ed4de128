package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/roach88/knot/internal/apps"
	"github.com/roach88/knot/internal/config"
	"github.com/roach88/knot/internal/engine"
	"github.com/roach88/knot/internal/ir"
	"github.com/roach88/knot/internal/metrics"
	"github.com/roach88/knot/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config      string
	Database    string
	MetricsAddr string
	Changes     []string
	Await       string
	Timeout     time.Duration

	// IDs allows overriding the knot ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDs engine.IDGenerator
}

// RunSummary is the final report of a run.
type RunSummary struct {
	KnotID  string          `json:"knot_id"`
	Name    string          `json:"name"`
	State   ir.Tag          `json:"state"`
	Data    json.RawMessage `json:"data,omitempty"`
	Awaited ir.Tag          `json:"awaited,omitempty"`
}

// stateLine is one published state in JSON output.
type stateLine struct {
	State ir.Tag          `json:"state"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <app>",
		Short: "Run a bundled application",
		Long: `Start a bundled application, submit changes and print every published state.

Changes are given as tag or tag=<json args> and are accepted in order once
the knot is built. With --await the command stops after the first state
with that tag; otherwise it runs until interrupted or the knot fails.

Exit codes:
  0 - Awaited state reached, or clean stop on interrupt
  1 - Knot failed or --await timed out
  2 - Command error (unknown app, bad change, unreadable config)

Examples:
  knot run loader --change 'load={"url":"flaky:2:hello"}' --await loaded
  knot run cart --change 'add_item={"sku":"tea","qty":2,"price":450}' --change checkout --await paid
  knot run loader --db ./knot.db --metrics-addr :9090 --config knot.cue`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKnot(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "configuration file (.cue, .yaml or .yml)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "journal database path (overrides journal.path)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides metrics.addr)")
	cmd.Flags().StringArrayVar(&opts.Changes, "change", nil, "change to accept, tag or tag=<json> (repeatable)")
	cmd.Flags().StringVar(&opts.Await, "await", "", "stop after the first state with this tag")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "how long --await waits")

	return cmd
}

// change is a parsed --change flag.
type change struct {
	tag  ir.Tag
	args json.RawMessage
}

// parseChange splits "tag" or "tag=<json>".
func parseChange(s string) (change, error) {
	tag, args, hasArgs := strings.Cut(s, "=")
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return change{}, fmt.Errorf("change %q: empty tag", s)
	}
	if !hasArgs {
		return change{tag: ir.Tag(tag)}, nil
	}
	if !json.Valid([]byte(args)) {
		return change{}, fmt.Errorf("change %q: args are not valid JSON", s)
	}
	return change{tag: ir.Tag(tag), args: json.RawMessage(args)}, nil
}

// resolveConfig loads the config file, if any, and applies flag overrides.
// The app name replaces the default knot name.
func resolveConfig(opts *RunOptions, appName string) (config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if cfg.Name == config.Default().Name {
		cfg.Name = appName
	}
	if opts.Database != "" {
		cfg.Journal.Path = opts.Database
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.Addr = opts.MetricsAddr
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func runKnot(opts *RunOptions, appName string, cmd *cobra.Command) error {
	f := formatter(opts.RootOptions, cmd)

	app, ok := apps.Lookup(appName)
	if !ok {
		return f.Fail(ExitCommandError, ErrCodeApp,
			fmt.Sprintf("unknown app %q (available: %v)", appName, apps.Names()), nil)
	}

	changes := make([]change, 0, len(opts.Changes))
	for _, s := range opts.Changes {
		c, err := parseChange(s)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeUsage, "invalid --change", err)
		}
		changes = append(changes, c)
	}

	cfg, err := resolveConfig(opts, app.Name)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}

	logger := config.NewLogger(cfg.Log, cmd.ErrOrStderr())
	engOpts, release := config.Options(cfg, logger)
	defer release()

	if opts.IDs != nil {
		engOpts = append(engOpts, engine.WithIDGenerator(opts.IDs))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var journal *store.Journal
	if cfg.Journal.Path != "" {
		journal, err = store.Open(cfg.Journal.Path)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeJournal, "failed to open journal", err)
		}
		defer func() {
			if closeErr := journal.Close(); closeErr != nil {
				logger.Error("error closing journal", "error", closeErr)
			}
		}()
		engOpts = append(engOpts, engine.WithRecorder(journal))
	}

	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		engOpts = append(engOpts, engine.WithMetrics(metrics.New(reg)))

		shutdown, err := serveMetrics(cfg.Metrics.Addr, reg, logger)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeUsage, "failed to serve metrics", err)
		}
		defer shutdown()
	}

	session, err := app.New(apps.Env{Logger: logger}, engOpts...)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeApp, fmt.Sprintf("failed to build %s", app.Name), err)
	}
	if journal != nil {
		if err := journal.WriteKnot(ctx, store.Knot{ID: session.ID(), Name: cfg.Name}); err != nil {
			return f.Fail(ExitFailure, ErrCodeJournal, "failed to register knot", err)
		}
	}

	stream := session.Subscribe()
	defer stream.Close()

	done := make(chan error, 1)
	go func() {
		done <- session.Run(ctx)
	}()
	stop := func() error {
		session.Stop()
		return <-done
	}

	for _, c := range changes {
		if err := session.Accept(c.tag, c.args); err != nil {
			runErr := stop()
			if errors.Is(err, apps.ErrRejected) && runErr != nil {
				return f.Fail(ExitFailure, ErrCodeKnot, "knot failed", runErr)
			}
			return f.Fail(ExitCommandError, ErrCodeUsage, "change rejected", err)
		}
		logger.Debug("change accepted", "change", c.tag)
	}

	watchCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if opts.Await != "" {
		watchCtx, cancel = context.WithTimeout(watchCtx, opts.Timeout)
		defer cancel()
	}

	last, reached := watch(watchCtx, stream, ir.Tag(opts.Await), f)

	if runErr := stop(); runErr != nil {
		return f.Fail(ExitFailure, ErrCodeKnot, "knot failed", runErr)
	}
	if opts.Await != "" && !reached {
		return f.Fail(ExitFailure, ErrCodeKnot,
			fmt.Sprintf("state %q not reached within %s", opts.Await, opts.Timeout), nil)
	}

	if last == nil {
		last = session.State()
	}
	summary := RunSummary{
		KnotID:  session.ID(),
		Name:    cfg.Name,
		State:   ir.TagOf(last),
		Data:    encodeState(last),
		Awaited: ir.Tag(opts.Await),
	}
	return f.Success(summary, func(w io.Writer) {
		fmt.Fprintf(w, "knot %s (%s) stopped in state %s\n", summary.KnotID, summary.Name, summary.State)
	})
}

// watch prints published states until await is seen, ctx ends or the
// stream ends. It returns the last state printed.
func watch(ctx context.Context, stream apps.Stream, await ir.Tag, f *OutputFormatter) (ir.Tagged, bool) {
	var last ir.Tagged
	for {
		state, err := stream.Next(ctx)
		if err != nil {
			return last, false
		}
		last = state
		printState(f, state)
		if await != "" && ir.TagOf(state) == await {
			return last, true
		}
	}
}

func printState(f *OutputFormatter, state ir.Tagged) {
	data := encodeState(state)
	if f.JSON() {
		_ = json.NewEncoder(f.Writer).Encode(stateLine{State: ir.TagOf(state), Data: data})
		return
	}
	fmt.Fprintf(f.Writer, "→ %s %s\n", ir.TagOf(state), data)
}

func encodeState(state ir.Tagged) json.RawMessage {
	if state == nil {
		return nil
	}
	b, err := json.Marshal(state)
	if err != nil {
		return nil
	}
	return b
}

// serveMetrics starts the /metrics endpoint and returns its shutdown func.
// Listening happens before returning so a bad address fails the command.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("metrics listening", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
