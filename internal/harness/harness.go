package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/knot/internal/apps"
	"github.com/roach88/knot/internal/engine"
	"github.com/roach88/knot/internal/ir"
	"github.com/roach88/knot/internal/store"
	"github.com/roach88/knot/internal/testutil"
)

// Harness is the test execution engine for a single scenario.
// It owns a fresh in-memory journal and the running application session.
type Harness struct {
	scenario *Scenario
	journal  *store.Journal
	session  apps.Session
	stream   apps.Stream
	logger   *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh in-memory journal for isolation, and
// knot IDs come from testutil.SequentialIDs so traces are reproducible.
//
// Execution flow:
//  1. Open an in-memory journal and start the application with it as recorder
//  2. Execute steps: accept submits a change, await reads the state stream
//  3. Stop the knot and wait for Run to return
//  4. Read the trace back from the journal and evaluate assertions
//
// A nil logger discards engine logs. The returned error covers setup
// failures only; step and assertion failures are reported in the Result.
func Run(ctx context.Context, scenario *Scenario, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	app, ok := apps.Lookup(scenario.App)
	if !ok {
		return nil, fmt.Errorf("unknown app %q", scenario.App)
	}

	journal, err := store.Open(store.MemoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory journal: %w", err)
	}
	defer journal.Close()

	session, err := app.New(apps.Env{Logger: logger},
		engine.WithLogger(logger),
		engine.WithRecorder(journal),
		engine.WithIDGenerator(testutil.NewSequentialIDs(scenario.Name)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start app %s: %w", scenario.App, err)
	}

	h := &Harness{
		scenario: scenario,
		journal:  journal,
		session:  session,
		stream:   session.Subscribe(),
		logger:   logger.With("scenario", scenario.Name),
	}
	defer h.stream.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- session.Run(runCtx)
	}()

	result := NewResult(scenario.Name)
	result.KnotID = session.ID()

	if h.executeSteps(ctx, result) && scenario.FailsWith != "" {
		// The failure may still be queued behind the last accept
		h.awaitEnd(ctx, scenario.AwaitTimeout())
	}

	session.Stop()
	runErr := <-done
	h.checkOutcome(runErr, result)

	transitions, err := journal.ReadTransitions(ctx, session.ID())
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	for _, t := range transitions {
		result.Trace = append(result.Trace, EventFromTransition(t))
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	h.logger.Info("scenario finished",
		"knot_id", result.KnotID,
		"transitions", len(result.Trace),
		"pass", result.Pass,
	)
	return result, nil
}

// executeSteps runs steps in order and stops at the first failing one.
// It reports whether the knot may still be running. When the scenario
// expects a failure, a step interrupted by a runtime error ends the steps
// without being reported; checkOutcome verifies the code.
func (h *Harness) executeSteps(ctx context.Context, result *Result) bool {
	timeout := h.scenario.AwaitTimeout()

	for i, step := range h.scenario.Steps {
		var err error
		switch {
		case step.Accept != "":
			err = h.accept(step)
		default:
			err = h.await(ctx, ir.Tag(step.Await), timeout)
		}
		if err != nil {
			if h.scenario.FailsWith != "" && terminated(err) {
				h.logger.Debug("knot terminated during steps", "step", i, "error", err)
				return false
			}
			result.AddError(fmt.Sprintf("steps[%d]: %v", i, err))
			return false
		}
		h.logger.Debug("step completed", "step", i, "accept", step.Accept, "await", step.Await)
	}
	return true
}

func (h *Harness) accept(step Step) error {
	args, err := encodeArgs(step.Args)
	if err != nil {
		return fmt.Errorf("accept %s: encode args: %w", step.Accept, err)
	}
	if err := h.session.Accept(ir.Tag(step.Accept), args); err != nil {
		return fmt.Errorf("accept %s: %w", step.Accept, err)
	}
	return nil
}

func (h *Harness) await(ctx context.Context, tag ir.Tag, timeout time.Duration) error {
	_, err := testutil.CollectUntil(ctx, h.stream.Next, func(s ir.Tagged) bool {
		return ir.TagOf(s) == tag
	}, timeout)
	if err != nil {
		return fmt.Errorf("await %s: %w", tag, err)
	}
	return nil
}

// terminated reports whether err shows the knot has already stopped.
func terminated(err error) bool {
	return engine.CodeOf(err) != "" || errors.Is(err, apps.ErrRejected)
}

// awaitEnd drains the state stream until the knot terminates or timeout
// elapses.
func (h *Harness) awaitEnd(ctx context.Context, timeout time.Duration) {
	_, err := testutil.CollectUntil(ctx, h.stream.Next, func(ir.Tagged) bool { return false }, timeout)
	h.logger.Debug("state stream ended", "error", err)
}

// checkOutcome compares how the knot stopped with FailsWith.
func (h *Harness) checkOutcome(runErr error, result *Result) {
	want := h.scenario.FailsWith

	switch {
	case runErr == nil && want == "":
	case runErr == nil:
		result.AddError(fmt.Sprintf("expected knot to fail with %s, it stopped cleanly", want))
	case want == "":
		result.AddError(fmt.Sprintf("knot failed: %v", runErr))
	case string(engine.CodeOf(runErr)) != want:
		result.AddError(fmt.Sprintf("expected knot to fail with %s, got %s: %v", want, engine.CodeOf(runErr), runErr))
	}
}
