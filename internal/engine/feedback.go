package engine

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/knot/internal/ir"
)

// workers runs action transformers and on-enter triggers for one knot run.
//
// Each run gets its own context derived from the run group. Switch-policy
// registrations keep their latest run per slot; starting a new run cancels
// the previous one. Emission and cancellation share one mutex, so once a
// run is superseded none of its later changes reach the queue.
//
// Thread-safety: dispatch and observe are called only from the reduction
// loop; emit closures are called from worker goroutines.
type workers[S, C, A ir.Tagged] struct {
	knot  *Knot[S, C, A]
	group *errgroup.Group
	ctx   context.Context

	detectors []*edgeDetector // Aligned with knot.tables.triggers; loop-owned

	mu       sync.Mutex
	inflight map[string]*workerRun
}

type workerRun struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func newWorkers[S, C, A ir.Tagged](k *Knot[S, C, A], group *errgroup.Group, ctx context.Context) *workers[S, C, A] {
	w := &workers[S, C, A]{
		knot:     k,
		group:    group,
		ctx:      ctx,
		inflight: make(map[string]*workerRun),
	}
	for _, tr := range k.tables.triggers {
		w.detectors = append(w.detectors, newEdgeDetector(tr.tag))
	}
	return w
}

// dispatch routes an action to every transformer registered for its tag.
// An action with no transformer is dropped.
func (w *workers[S, C, A]) dispatch(action A) {
	k := w.knot
	tag := action.Tag()

	entries := k.tables.transformers[tag]
	if len(entries) == 0 {
		k.log.Debug("action has no transformer", "action", tag)
		return
	}

	k.opts.metrics.ActionDispatched(k.opts.name, tag)

	for _, entry := range entries {
		k.log.Debug("action dispatched",
			"action", tag,
			"owner", entry.owner,
			"policy", entry.policy,
		)
		w.spawn(entry.slot, entry.policy, ir.OriginAction, entry.owner,
			func(ctx context.Context, emit func(C)) error {
				return entry.fn(ctx, action, emit)
			},
			func(err error) error {
				return newFailure(ErrCodeTransformerFailed, k.id, tag, entry.owner, err)
			},
		)
	}
}

// observe feeds a published state to every edge detector and starts the
// triggers whose variant was just entered.
func (w *workers[S, C, A]) observe(state S) {
	k := w.knot
	tag := ir.TagOf(state)

	for i, entry := range k.tables.triggers {
		if !w.detectors[i].observe(tag) {
			continue
		}
		k.log.Debug("state entered", "state", tag, "owner", entry.owner)
		w.spawn(entry.slot, entry.policy, ir.OriginTrigger, entry.owner,
			func(ctx context.Context, emit func(C)) error {
				return entry.fn(ctx, state, emit)
			},
			func(err error) error {
				return newFailure(ErrCodeTriggerFailed, k.id, tag, entry.owner, err)
			},
		)
	}
}

// spawn starts body on the run group. A non-nil error from a run that was
// neither superseded nor stopped is wrapped by fail and terminates the knot.
func (w *workers[S, C, A]) spawn(
	slot string,
	policy Policy,
	origin ir.Origin,
	owner string,
	body func(ctx context.Context, emit func(C)) error,
	fail func(error) error,
) {
	k := w.knot
	ctx, cancel := context.WithCancel(w.ctx)
	run := &workerRun{ctx: ctx, cancel: cancel}

	if policy == Switch {
		w.mu.Lock()
		if prev, ok := w.inflight[slot]; ok {
			prev.cancel()
			k.opts.metrics.WorkerSuperseded(k.opts.name)
			k.log.Debug("worker superseded", "slot", slot)
		}
		w.inflight[slot] = run
		w.mu.Unlock()
	}

	emit := func(c C) {
		w.mu.Lock()
		defer w.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		k.enqueue(c, origin, owner)
	}

	w.group.Go(func() (err error) {
		defer w.release(slot, run)
		defer func() {
			if p := recover(); p != nil {
				err = fail(fmt.Errorf("panic: %v", p))
			}
		}()

		if runErr := body(ctx, emit); runErr != nil && ctx.Err() == nil {
			return fail(runErr)
		}
		return nil
	})
}

// release forgets run if it is still the latest for its slot, then cancels it.
func (w *workers[S, C, A]) release(slot string, run *workerRun) {
	w.mu.Lock()
	if w.inflight[slot] == run {
		delete(w.inflight, slot)
	}
	w.mu.Unlock()
	run.cancel()
}
