package engine

import (
	"context"
	"fmt"

	"github.com/roach88/knot/internal/ir"
)

// Reducer computes the next State and optional Action from the current
// State and a Change. Reducers must be pure; they return Unexpected for
// changes the current state does not accept.
type Reducer[S, C, A ir.Tagged] func(state S, change C) (ir.Effect[S, A], error)

// ActionTransformer performs the side effect requested by an Action and
// emits zero or more follow-up Changes. It must return promptly once ctx
// is cancelled; changes emitted after cancellation are discarded.
type ActionTransformer[C, A ir.Tagged] func(ctx context.Context, action A, emit func(C)) error

// StateTrigger runs each time the published state enters the variant it
// is registered for, emitting zero or more Changes.
type StateTrigger[S, C ir.Tagged] func(ctx context.Context, state S, emit func(C)) error

// EventSource produces Changes from outside the knot for as long as the
// knot runs. It is started by Run and cancelled when the knot stops.
type EventSource[C ir.Tagged] func(ctx context.Context, emit func(C)) error

// Policy selects how concurrent runs of one transformer or trigger interact.
type Policy int

const (
	// Merge lets every run complete independently.
	Merge Policy = iota
	// Switch cancels the in-flight run of the same registration when a new
	// one starts (latest wins).
	Switch
)

// String implements fmt.Stringer.
func (p Policy) String() string {
	switch p {
	case Merge:
		return "merge"
	case Switch:
		return "switch"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

type reducerDecl[S, C, A ir.Tagged] struct {
	tag ir.Tag
	fn  Reducer[S, C, A]
}

type transformerDecl[C, A ir.Tagged] struct {
	tag    ir.Tag
	policy Policy
	fn     ActionTransformer[C, A]
}

type triggerDecl[S, C ir.Tagged] struct {
	tag    ir.Tag
	policy Policy
	fn     StateTrigger[S, C]
}

type sourceDecl[C ir.Tagged] struct {
	name string
	fn   EventSource[C]
}

// Builder collects registrations. It is the configuration surface shared
// by Definition (a standalone knot) and Prime (a composite module).
//
// A Builder is not safe for concurrent use and is consumed at activation;
// registrations made afterwards have no effect on a live knot.
type Builder[S, C, A ir.Tagged] struct {
	reducers     []reducerDecl[S, C, A]
	transformers []transformerDecl[C, A]
	triggers     []triggerDecl[S, C]
	sources      []sourceDecl[C]

	states  chain[S]
	changes chain[C]
	actions chain[A]
}

// On registers the reducer for changes tagged tag.
func (b *Builder[S, C, A]) On(tag ir.Tag, reducer Reducer[S, C, A]) *Builder[S, C, A] {
	b.reducers = append(b.reducers, reducerDecl[S, C, A]{tag: tag, fn: reducer})
	return b
}

// Perform registers a transformer for actions tagged tag.
// Several transformers may share one action tag; each receives the action.
func (b *Builder[S, C, A]) Perform(tag ir.Tag, policy Policy, transformer ActionTransformer[C, A]) *Builder[S, C, A] {
	b.transformers = append(b.transformers, transformerDecl[C, A]{tag: tag, policy: policy, fn: transformer})
	return b
}

// OnEnter registers a trigger fired once per entry into the state variant tag.
func (b *Builder[S, C, A]) OnEnter(tag ir.Tag, policy Policy, trigger StateTrigger[S, C]) *Builder[S, C, A] {
	b.triggers = append(b.triggers, triggerDecl[S, C]{tag: tag, policy: policy, fn: trigger})
	return b
}

// Source registers an event source started when the knot runs.
func (b *Builder[S, C, A]) Source(name string, source EventSource[C]) *Builder[S, C, A] {
	b.sources = append(b.sources, sourceDecl[C]{name: name, fn: source})
	return b
}

// InterceptState appends an interceptor to the state chain.
func (b *Builder[S, C, A]) InterceptState(i Interceptor[S]) *Builder[S, C, A] {
	b.states = append(b.states, i)
	return b
}

// InterceptChange appends an interceptor to the change chain.
func (b *Builder[S, C, A]) InterceptChange(i Interceptor[C]) *Builder[S, C, A] {
	b.changes = append(b.changes, i)
	return b
}

// InterceptAction appends an interceptor to the action chain.
func (b *Builder[S, C, A]) InterceptAction(i Interceptor[A]) *Builder[S, C, A] {
	b.actions = append(b.actions, i)
	return b
}

// WatchState calls fn for every published state matching tag (ir.AnyTag for all).
func (b *Builder[S, C, A]) WatchState(tag ir.Tag, fn func(S)) *Builder[S, C, A] {
	return b.InterceptState(watch(tag, fn))
}

// WatchChange calls fn for every change matching tag before it is reduced.
func (b *Builder[S, C, A]) WatchChange(tag ir.Tag, fn func(C)) *Builder[S, C, A] {
	return b.InterceptChange(watch(tag, fn))
}

// WatchAction calls fn for every action matching tag before it is routed.
func (b *Builder[S, C, A]) WatchAction(tag ir.Tag, fn func(A)) *Builder[S, C, A] {
	return b.InterceptAction(watch(tag, fn))
}

// Definition declares a standalone knot: an initial state plus registrations.
type Definition[S, C, A ir.Tagged] struct {
	Builder[S, C, A]
	initial S
}

// NewDefinition starts a definition with the given initial state.
func NewDefinition[S, C, A ir.Tagged](initial S) *Definition[S, C, A] {
	return &Definition[S, C, A]{initial: initial}
}

// Initial returns the declared initial state.
func (d *Definition[S, C, A]) Initial() S {
	return d.initial
}

// Prime is an independently authored module of a composite knot. It has
// registrations but no initial state of its own.
type Prime[S, C, A ir.Tagged] struct {
	Builder[S, C, A]
	name string
}

// NewPrime creates an empty prime. The name appears in errors and logs.
func NewPrime[S, C, A ir.Tagged](name string) *Prime[S, C, A] {
	return &Prime[S, C, A]{name: name}
}

// Name returns the prime's name.
func (p *Prime[S, C, A]) Name() string {
	return p.name
}

// part is one contributor to a dispatch table.
type part[S, C, A ir.Tagged] struct {
	owner   string
	builder *Builder[S, C, A]
}

type reducerEntry[S, C, A ir.Tagged] struct {
	owner string
	fn    Reducer[S, C, A]
}

type transformerEntry[C, A ir.Tagged] struct {
	slot   string // Switch-policy cancellation key, unique per registration
	owner  string
	policy Policy
	fn     ActionTransformer[C, A]
}

type triggerEntry[S, C ir.Tagged] struct {
	slot   string
	owner  string
	tag    ir.Tag
	policy Policy
	fn     StateTrigger[S, C]
}

type sourceEntry[C ir.Tagged] struct {
	name string
	fn   EventSource[C]
}

// tables is the immutable dispatch configuration of a live knot.
type tables[S, C, A ir.Tagged] struct {
	reducers     map[ir.Tag]reducerEntry[S, C, A]
	transformers map[ir.Tag][]transformerEntry[C, A]
	triggers     []triggerEntry[S, C]
	sources      []sourceEntry[C]

	states  chain[S]
	changes chain[C]
	actions chain[A]
}

// compile merges parts, in order, into one set of dispatch tables.
// A change tag claimed by two reducers is a DUPLICATE_REDUCER error,
// whether the two registrations come from one part or from two.
func compile[S, C, A ir.Tagged](parts ...part[S, C, A]) (*tables[S, C, A], error) {
	t := &tables[S, C, A]{
		reducers:     make(map[ir.Tag]reducerEntry[S, C, A]),
		transformers: make(map[ir.Tag][]transformerEntry[C, A]),
	}

	for _, p := range parts {
		b := p.builder

		for _, r := range b.reducers {
			if existing, ok := t.reducers[r.tag]; ok {
				return nil, NewDuplicateReducerError(r.tag, existing.owner, p.owner)
			}
			t.reducers[r.tag] = reducerEntry[S, C, A]{owner: p.owner, fn: r.fn}
		}

		for i, tr := range b.transformers {
			t.transformers[tr.tag] = append(t.transformers[tr.tag], transformerEntry[C, A]{
				slot:   fmt.Sprintf("action/%s/%d", p.owner, i),
				owner:  p.owner,
				policy: tr.policy,
				fn:     tr.fn,
			})
		}

		for i, tg := range b.triggers {
			t.triggers = append(t.triggers, triggerEntry[S, C]{
				slot:   fmt.Sprintf("trigger/%s/%d", p.owner, i),
				owner:  p.owner,
				tag:    tg.tag,
				policy: tg.policy,
				fn:     tg.fn,
			})
		}

		for _, s := range b.sources {
			t.sources = append(t.sources, sourceEntry[C]{name: p.owner + "/" + s.name, fn: s.fn})
		}

		t.states = append(t.states, b.states...)
		t.changes = append(t.changes, b.changes...)
		t.actions = append(t.actions, b.actions...)
	}

	return t, nil
}
