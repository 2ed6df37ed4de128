package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/knot/internal/ir"
)

// Test vocabulary. State, Change and Action are sum types over ir.Tagged.

type State interface{ ir.Tagged }
type Change interface{ ir.Tagged }
type Action interface{ ir.Tagged }

type idle struct{}
type loading struct{ Attempt int }
type loaded struct{ Data string }
type failed struct{ Reason string }
type counter struct{ Applied []int }

// variant is a state whose tag is chosen per value.
type variant struct {
	Name string
	V    int
}

func (idle) Tag() ir.Tag    { return "idle" }
func (loading) Tag() ir.Tag { return "loading" }
func (loaded) Tag() ir.Tag  { return "loaded" }
func (failed) Tag() ir.Tag  { return "failed" }
func (counter) Tag() ir.Tag { return "counter" }
func (v variant) Tag() ir.Tag {
	return ir.Tag(v.Name)
}

type load struct{}
type success struct{ Data string }
type failure struct{ Reason string }
type add struct{ N int }
type goTo struct{ Target State }
type unknown struct{}

func (load) Tag() ir.Tag    { return "load" }
func (success) Tag() ir.Tag { return "success" }
func (failure) Tag() ir.Tag { return "failure" }
func (add) Tag() ir.Tag     { return "add" }
func (goTo) Tag() ir.Tag    { return "go" }
func (unknown) Tag() ir.Tag { return "unknown" }

type fetch struct{ Attempt int }
type notify struct{ N int }

func (fetch) Tag() ir.Tag  { return "fetch" }
func (notify) Tag() ir.Tag { return "notify" }

type testDef = Definition[State, Change, Action]

const testTimeout = 2 * time.Second

// loaderDefinition registers the Load → Loading+Fetch → Loaded cycle.
// The fetch transformer is left to the caller.
func loaderDefinition() *testDef {
	def := NewDefinition[State, Change, Action](idle{})
	def.On("load", func(s State, c Change) (ir.Effect[State, Action], error) {
		attempt := 1
		if l, ok := s.(loading); ok {
			attempt = l.Attempt + 1
		}
		return ir.Effect[State, Action]{State: loading{Attempt: attempt}, Action: fetch{Attempt: attempt}}, nil
	})
	def.On("success", func(s State, c Change) (ir.Effect[State, Action], error) {
		if _, ok := s.(loading); !ok {
			return ir.Effect[State, Action]{}, Unexpected(s, c)
		}
		return ir.Effect[State, Action]{State: loaded{Data: c.(success).Data}}, nil
	})
	def.On("failure", func(s State, c Change) (ir.Effect[State, Action], error) {
		return ir.Effect[State, Action]{State: failed{Reason: c.(failure).Reason}}, nil
	})
	return def
}

// counterReducer appends each add to the applied history.
func counterReducer(s State, c Change) (ir.Effect[State, Action], error) {
	prev := s.(counter).Applied
	next := make([]int, len(prev), len(prev)+1)
	copy(next, prev)
	return ir.Effect[State, Action]{State: counter{Applied: append(next, c.(add).N)}}, nil
}

// goToReducer moves to the state carried by the change.
func goToReducer(_ State, c Change) (ir.Effect[State, Action], error) {
	return ir.Effect[State, Action]{State: c.(goTo).Target}, nil
}

// start runs h in the background. The returned channel yields Run's result.
func start(t *testing.T, h Handle[State, Change, Action]) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- h.Run(context.Background())
	}()
	t.Cleanup(h.Stop)
	return done
}

// waitRun waits for Run to return.
func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(testTimeout):
		t.Fatal("Run did not return")
		return nil
	}
}

// next reads one value from sub with a timeout.
func next(t *testing.T, sub *Subscription[State]) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	s, err := sub.Next(ctx)
	require.NoError(t, err)
	return s
}

// drain reads sub until it ends and returns the values and terminal error.
func drain(t *testing.T, sub *Subscription[State]) ([]State, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	var states []State
	for {
		s, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("subscription did not end after %d states", len(states))
			}
			return states, err
		}
		states = append(states, s)
	}
}

// awaitTag waits for a state tagged tag.
func awaitTag(t *testing.T, sub *Subscription[State], tag ir.Tag) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	s, err := AwaitTag(ctx, sub, tag)
	require.NoError(t, err, "waiting for %s", tag)
	return s
}

func tagsOf(states []State) []ir.Tag {
	out := make([]ir.Tag, len(states))
	for i, s := range states {
		out[i] = ir.TagOf(s)
	}
	return out
}

// memRecorder collects transitions in memory.
type memRecorder struct {
	ch chan ir.Transition
}

func newMemRecorder() *memRecorder {
	return &memRecorder{ch: make(chan ir.Transition, 128)}
}

func (r *memRecorder) Record(_ context.Context, t ir.Transition) error {
	r.ch <- t
	return nil
}

func (r *memRecorder) all() []ir.Transition {
	var out []ir.Transition
	for {
		select {
		case t := <-r.ch:
			out = append(out, t)
		default:
			return out
		}
	}
}

var errBoom = fmt.Errorf("boom")
