package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/knot/internal/ir"
)

// Knot is the single-writer reduction core.
//
// It owns the current state, serializes every incoming change (external,
// source, action feedback or trigger) through one FIFO queue, applies the
// matching reducer exactly once per change and publishes each resulting
// state before the next change is dequeued.
//
// CRITICAL: reducers, state publication and trigger edge detection all run
// in the Run loop goroutine. External callers use Accept to submit changes.
//
// Thread-safety model:
//   - Accept(), Subscribe(), State(), Stop(): safe from any goroutine
//   - Run(): called once, blocks until the knot terminates
//
// INVARIANTS:
//   - Dispatch tables never change after New (read without locking)
//   - Publication seq strictly increases; the initial state is seq 0
//   - An action is dispatched only after its state has been handed to subscribers
type Knot[S, C, A ir.Tagged] struct {
	id     string
	opts   options
	log    *slog.Logger
	tables *tables[S, C, A]
	queue  *queue[envelope[C]]
	clock  *Clock

	mu         sync.Mutex
	current    S
	seq        int64
	subs       map[*Subscription[S]]struct{}
	terminated bool
	finalErr   error
	ran        bool
	stopping   bool
	cancel     context.CancelFunc
}

// New freezes def into a knot. The knot accepts changes immediately but
// processes them only once Run is called.
//
// Returns a DUPLICATE_REDUCER error if def registers two reducers for one
// tag, and INTERCEPTOR_FAILED if a state interceptor panics on the initial
// state.
func New[S, C, A ir.Tagged](def *Definition[S, C, A], opts ...Option) (*Knot[S, C, A], error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	t, err := compile(part[S, C, A]{owner: o.name, builder: &def.Builder})
	if err != nil {
		return nil, err
	}
	return newKnot(def.initial, t, o)
}

// newKnot builds the knot and passes initial through the state interceptors.
func newKnot[S, C, A ir.Tagged](initial S, t *tables[S, C, A], o options) (*Knot[S, C, A], error) {
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	id := o.ids.Generate()

	current, err := t.states.run(id, initial)
	if err != nil {
		return nil, err
	}

	return &Knot[S, C, A]{
		id:      id,
		opts:    o,
		log:     logger.With("knot", o.name, "knot_id", id),
		tables:  t,
		queue:   newQueue[envelope[C]](),
		clock:   NewClock(),
		current: current,
		subs:    make(map[*Subscription[S]]struct{}),
	}, nil
}

// ID returns the knot instance ID.
func (k *Knot[S, C, A]) ID() string {
	return k.id
}

// Name returns the configured knot name.
func (k *Knot[S, C, A]) Name() string {
	return k.opts.name
}

// Accept submits an externally originated change.
// Thread-safe and non-blocking. Returns false once the knot has terminated.
func (k *Knot[S, C, A]) Accept(change C) bool {
	return k.enqueue(change, ir.OriginExternal, "")
}

func (k *Knot[S, C, A]) enqueue(change C, origin ir.Origin, source string) bool {
	if !ir.Present(change) {
		return false
	}
	if !k.queue.Enqueue(envelope[C]{change: change, origin: origin, source: source}) {
		return false
	}
	k.opts.metrics.ChangeAccepted(k.opts.name, origin)
	k.opts.metrics.QueueDepth(k.opts.name, k.queue.Len())
	return true
}

// State returns the current state.
func (k *Knot[S, C, A]) State() S {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.current
}

// Subscribe returns a subscription whose first value is the current state.
// Subscribing to a terminated knot yields the final state and then its
// terminating error.
func (k *Knot[S, C, A]) Subscribe() *Subscription[S] {
	sub := newSubscription(k.detach)

	k.mu.Lock()
	defer k.mu.Unlock()

	sub.push(k.seq, k.current)
	if k.terminated {
		sub.finish(k.finalErr)
		return sub
	}
	k.subs[sub] = struct{}{}
	return sub
}

func (k *Knot[S, C, A]) detach(sub *Subscription[S]) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.subs, sub)
}

// Run starts the reduction loop, event sources and feedback workers.
// Blocks until Stop is called, ctx is done, or a failure terminates the knot.
//
// Returns nil after Stop, ctx.Err() when ctx ends the run, and otherwise the
// first failure (an *UnhandledChangeError or a *RuntimeError). Run may only
// be called once; a second call returns ALREADY_RUNNING.
func (k *Knot[S, C, A]) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	k.mu.Lock()
	if k.ran {
		k.mu.Unlock()
		return NewAlreadyRunningError(k.id)
	}
	k.ran = true
	if k.stopping {
		k.mu.Unlock()
		return nil
	}
	k.cancel = cancel
	k.mu.Unlock()

	k.log.Info("knot starting",
		"reducers", len(k.tables.reducers),
		"triggers", len(k.tables.triggers),
		"sources", len(k.tables.sources),
	)

	g, gctx := errgroup.WithContext(runCtx)
	w := newWorkers(k, g, gctx)

	for _, src := range k.tables.sources {
		g.Go(func() error {
			return k.runSource(gctx, src)
		})
	}
	g.Go(func() error {
		return k.loop(gctx, w)
	})

	err := g.Wait()
	k.queue.Close()

	k.mu.Lock()
	stopped := k.stopping
	k.mu.Unlock()

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		switch {
		case ctx.Err() != nil:
			err = ctx.Err()
		case stopped:
			err = nil
		}
	}

	cancelled := ctx.Err() != nil && errors.Is(err, ctx.Err())
	if err != nil && !cancelled {
		k.opts.metrics.Failed(k.opts.name, string(CodeOf(err)))
		k.log.Error("knot failed", "error", err)
		k.terminate(err)
		return err
	}

	k.log.Info("knot stopping", "seq", k.clock.Current())
	k.terminate(ErrStopped)
	return err
}

// Stop ends the knot cleanly: Accept starts returning false, in-flight
// workers are cancelled and Run returns nil. Pending changes are discarded.
// Safe to call more than once and before Run.
func (k *Knot[S, C, A]) Stop() {
	k.mu.Lock()
	if k.stopping {
		k.mu.Unlock()
		return
	}
	k.stopping = true
	cancel, ran := k.cancel, k.ran
	k.mu.Unlock()

	k.queue.Close()
	if cancel != nil {
		cancel()
	} else if !ran {
		k.terminate(ErrStopped)
	}
}

// terminate ends every subscription with err once earlier publications have
// been delivered.
func (k *Knot[S, C, A]) terminate(err error) {
	done := make(chan struct{})
	runOn(k.opts.observeOn, func() {
		defer close(done)

		k.mu.Lock()
		k.terminated = true
		k.finalErr = err
		subs := k.subs
		k.subs = nil
		k.mu.Unlock()

		for sub := range subs {
			sub.finish(err)
		}
	})
	<-done
}

// loop is the single-writer reduction loop.
func (k *Knot[S, C, A]) loop(ctx context.Context, w *workers[S, C, A]) error {
	initial := k.State()
	k.record(ctx, ir.Transition{Seq: 0, Origin: ir.OriginInitial}, nil, initial, nil)
	w.observe(initial)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		env, err := k.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, errQueueClosed) {
				return nil
			}
			return err
		}
		k.opts.metrics.QueueDepth(k.opts.name, k.queue.Len())

		if err := k.step(ctx, w, env); err != nil {
			return err
		}
	}
}

// step processes exactly one change.
//
// Processing flow:
//  1. Run the change interceptor chain
//  2. Look up the reducer by change tag (missing → UNHANDLED_CHANGE)
//  3. Reduce against the current state (on the reduce executor if set)
//  4. Run the state interceptor chain and publish
//  5. Run the action interceptor chain
//  6. Record the transition and feed the state to edge detectors
//  7. Route the action to its transformers
//
// A panicking interceptor or watcher fails the knot with INTERCEPTOR_FAILED.
func (k *Knot[S, C, A]) step(ctx context.Context, w *workers[S, C, A], env envelope[C]) error {
	change, err := k.tables.changes.run(k.id, env.change)
	if err != nil {
		return err
	}
	tag := ir.TagOf(change)
	from := k.State()

	entry, ok := k.tables.reducers[tag]
	if !ok {
		return &UnhandledChangeError{KnotID: k.id, State: from, Change: change}
	}

	start := time.Now()
	effect, err := k.reduce(ctx, tag, entry, from, change)
	if err != nil {
		return err
	}
	k.opts.metrics.Reduced(k.opts.name, time.Since(start))

	state, err := k.tables.states.run(k.id, effect.State)
	if err != nil {
		return err
	}
	seq := k.publish(state)

	var action A
	if effect.HasAction() {
		if action, err = k.tables.actions.run(k.id, effect.Action); err != nil {
			return err
		}
	}

	k.log.Debug("change reduced",
		"seq", seq,
		"change", tag,
		"origin", env.origin,
		"state", ir.TagOf(state),
		"action", actionTag(action),
	)

	k.record(ctx, ir.Transition{Seq: seq, Origin: env.origin, ChangeTag: tag, FromTag: ir.TagOf(from)},
		change, state, action)

	w.observe(state)
	if ir.Present(action) {
		w.dispatch(action)
	}
	return nil
}

// reduce applies the reducer, waiting for it when it runs on another executor.
func (k *Knot[S, C, A]) reduce(ctx context.Context, tag ir.Tag, entry reducerEntry[S, C, A], state S, change C) (ir.Effect[S, A], error) {
	if k.opts.reduceOn == nil {
		return k.invoke(tag, entry, state, change)
	}

	type result struct {
		effect ir.Effect[S, A]
		err    error
	}
	done := make(chan result, 1)
	k.opts.reduceOn.Execute(func() {
		effect, err := k.invoke(tag, entry, state, change)
		done <- result{effect: effect, err: err}
	})

	select {
	case r := <-done:
		return r.effect, r.err
	case <-ctx.Done():
		return ir.Effect[S, A]{}, ctx.Err()
	}
}

func (k *Knot[S, C, A]) invoke(tag ir.Tag, entry reducerEntry[S, C, A], state S, change C) (effect ir.Effect[S, A], err error) {
	defer func() {
		if p := recover(); p != nil {
			err = newFailure(ErrCodeReducerFailed, k.id, tag, entry.owner, fmt.Errorf("panic: %v", p))
		}
	}()

	effect, err = entry.fn(state, change)
	if err != nil {
		var unhandled *UnhandledChangeError
		if errors.As(err, &unhandled) {
			if unhandled.KnotID == "" {
				unhandled.KnotID = k.id
			}
			return effect, err
		}
		return effect, newFailure(ErrCodeReducerFailed, k.id, tag, entry.owner, err)
	}
	if !ir.Present(effect.State) {
		return effect, newFailure(ErrCodeReducerFailed, k.id, tag, entry.owner, errors.New("reducer returned no state"))
	}
	return effect, nil
}

// publish makes state current and hands it to subscribers.
func (k *Knot[S, C, A]) publish(state S) int64 {
	seq := k.clock.Next()

	k.mu.Lock()
	k.current = state
	k.seq = seq
	k.mu.Unlock()

	runOn(k.opts.observeOn, func() {
		k.deliver(seq, state)
	})
	return seq
}

func (k *Knot[S, C, A]) deliver(seq int64, state S) {
	k.mu.Lock()
	subs := make([]*Subscription[S], 0, len(k.subs))
	for sub := range k.subs {
		subs = append(subs, sub)
	}
	k.mu.Unlock()

	for _, sub := range subs {
		sub.push(seq, state)
	}
}

// runSource runs one event source until it returns or the knot stops.
func (k *Knot[S, C, A]) runSource(ctx context.Context, src sourceEntry[C]) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = newFailure(ErrCodeSourceFailed, k.id, "", src.name, fmt.Errorf("panic: %v", p))
		}
	}()

	emit := func(c C) {
		if ctx.Err() == nil {
			k.enqueue(c, ir.OriginSource, src.name)
		}
	}

	k.log.Debug("source started", "source", src.name)
	if err := src.fn(ctx, emit); err != nil && ctx.Err() == nil {
		return newFailure(ErrCodeSourceFailed, k.id, "", src.name, err)
	}
	return nil
}

// record writes a transition to the recorder, if any.
// ERROR HANDLING: failures are logged and processing continues; the
// journal is an observer and never affects state.
func (k *Knot[S, C, A]) record(ctx context.Context, t ir.Transition, change ir.Tagged, state S, action ir.Tagged) {
	if k.opts.recorder == nil {
		return
	}

	t.KnotID = k.id
	t.StateTag = ir.TagOf(state)
	t.ActionTag = ir.TagOf(action)
	t.Change = payload(change)
	t.State = payload(state)
	t.Action = payload(action)

	id, err := ir.TransitionID(t)
	if err != nil {
		k.log.Error("transition id failed", "seq", t.Seq, "error", err)
		return
	}
	t.ID = id

	// A stop must not lose the transition of a state already published
	if err := k.opts.recorder.Record(context.WithoutCancel(ctx), t); err != nil {
		k.log.Error("transition record failed", "seq", t.Seq, "error", err)
	}
}

// payload encodes a value for the journal. Values that cannot be
// marshalled fall back to their %+v rendering.
func payload(v ir.Tagged) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}

func actionTag[A ir.Tagged](action A) ir.Tag {
	if !ir.Present(action) {
		return ""
	}
	return action.Tag()
}
