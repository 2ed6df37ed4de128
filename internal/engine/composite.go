package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/roach88/knot/internal/ir"
)

// Handle is the live surface shared by *Knot and *Composite.
type Handle[S, C, A ir.Tagged] interface {
	ID() string
	Accept(change C) bool
	Subscribe() *Subscription[S]
	State() S
	Run(ctx context.Context) error
	Stop()
}

var (
	_ Handle[ir.Tagged, ir.Tagged, ir.Tagged] = (*Knot[ir.Tagged, ir.Tagged, ir.Tagged])(nil)
	_ Handle[ir.Tagged, ir.Tagged, ir.Tagged] = (*Composite[ir.Tagged, ir.Tagged, ir.Tagged])(nil)
)

// Composite assembles one knot from independently authored primes.
//
// Construction has two phases:
//   - Declaration: NewComposite fixes the shared initial state and options;
//     Register adds primes. The composite accepts no changes yet.
//   - Activation: Compose merges every prime into one set of dispatch
//     tables and creates the live knot.
//
// Accept and Subscribe before Compose are wiring mistakes and panic with a
// NOT_ACTIVATED *RuntimeError.
//
// Thread-safety: all methods are safe for concurrent use.
type Composite[S, C, A ir.Tagged] struct {
	def  *Definition[S, C, A]
	opts []Option

	mu     sync.Mutex
	primes []*Prime[S, C, A]
	knot   atomic.Pointer[Knot[S, C, A]]
}

// NewComposite starts the declaration phase. Registrations on def itself
// (typically composite-level watchers) come before every prime's.
func NewComposite[S, C, A ir.Tagged](def *Definition[S, C, A], opts ...Option) *Composite[S, C, A] {
	return &Composite[S, C, A]{def: def, opts: opts}
}

// Register adds primes in order. Prime names must be unique; a nil prime or
// a taken name rejects the whole call and nothing is added.
// Returns ALREADY_ACTIVATED after Compose.
func (c *Composite[S, C, A]) Register(primes ...*Prime[S, C, A]) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if k := c.knot.Load(); k != nil {
		return NewAlreadyActivatedError("Register", k.ID())
	}

	// The whole list is checked before any prime is added
	seen := make(map[string]bool, len(c.primes)+len(primes))
	for _, existing := range c.primes {
		seen[existing.name] = true
	}
	for i, p := range primes {
		if p == nil {
			return fmt.Errorf("prime %d is nil", i)
		}
		if seen[p.name] {
			return fmt.Errorf("prime %q already registered", p.name)
		}
		seen[p.name] = true
	}

	c.primes = append(c.primes, primes...)
	return nil
}

// Compose activates the composite. Reducer tables are merged (a change tag
// claimed twice is DUPLICATE_REDUCER naming both owners), interceptor
// chains are concatenated in registration order, and transformers,
// triggers and sources are wired into the new knot.
//
// Returns ALREADY_ACTIVATED when called twice.
func (c *Composite[S, C, A]) Compose() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if k := c.knot.Load(); k != nil {
		return NewAlreadyActivatedError("Compose", k.ID())
	}

	o := defaultOptions()
	for _, opt := range c.opts {
		opt(&o)
	}

	parts := make([]part[S, C, A], 0, len(c.primes)+1)
	parts = append(parts, part[S, C, A]{owner: o.name, builder: &c.def.Builder})
	for _, p := range c.primes {
		parts = append(parts, part[S, C, A]{owner: p.name, builder: &p.Builder})
	}

	t, err := compile(parts...)
	if err != nil {
		return err
	}

	k, err := newKnot(c.def.initial, t, o)
	if err != nil {
		return err
	}
	k.log.Info("composite activated", "primes", c.primeNames())
	c.knot.Store(k)
	return nil
}

// Active reports whether Compose has succeeded.
func (c *Composite[S, C, A]) Active() bool {
	return c.knot.Load() != nil
}

// Knot returns the live knot, or nil before Compose.
func (c *Composite[S, C, A]) Knot() *Knot[S, C, A] {
	return c.knot.Load()
}

// Primes returns the registered prime names in registration order.
func (c *Composite[S, C, A]) Primes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.primeNames()
}

func (c *Composite[S, C, A]) primeNames() []string {
	names := make([]string, len(c.primes))
	for i, p := range c.primes {
		names[i] = p.name
	}
	return names
}

// ID returns the live knot's ID, or "" before Compose.
func (c *Composite[S, C, A]) ID() string {
	if k := c.knot.Load(); k != nil {
		return k.ID()
	}
	return ""
}

// Accept submits a change. Panics before Compose.
func (c *Composite[S, C, A]) Accept(change C) bool {
	return c.mustKnot("Accept").Accept(change)
}

// Subscribe subscribes to published states. Panics before Compose.
func (c *Composite[S, C, A]) Subscribe() *Subscription[S] {
	return c.mustKnot("Subscribe").Subscribe()
}

// State returns the current state; before Compose, the declared initial state.
func (c *Composite[S, C, A]) State() S {
	if k := c.knot.Load(); k != nil {
		return k.State()
	}
	return c.def.initial
}

// Run runs the live knot. Returns NOT_ACTIVATED before Compose.
func (c *Composite[S, C, A]) Run(ctx context.Context) error {
	k := c.knot.Load()
	if k == nil {
		return NewNotActivatedError("Run")
	}
	return k.Run(ctx)
}

// Stop stops the live knot. No-op before Compose.
func (c *Composite[S, C, A]) Stop() {
	if k := c.knot.Load(); k != nil {
		k.Stop()
	}
}

func (c *Composite[S, C, A]) mustKnot(op string) *Knot[S, C, A] {
	k := c.knot.Load()
	if k == nil {
		panic(NewNotActivatedError(op))
	}
	return k
}
