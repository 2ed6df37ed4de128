package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/knot/internal/ir"
)

// counterPrime owns the add change.
func counterPrime() *Prime[State, Change, Action] {
	p := NewPrime[State, Change, Action]("counter")
	p.On("add", counterReducer)
	return p
}

// navigatorPrime owns the go change.
func navigatorPrime() *Prime[State, Change, Action] {
	p := NewPrime[State, Change, Action]("navigator")
	p.On("go", goToReducer)
	return p
}

func TestComposite_BeforeActivation(t *testing.T) {
	c := NewComposite(NewDefinition[State, Change, Action](counter{}))
	require.NoError(t, c.Register(counterPrime()))

	assert.False(t, c.Active())
	assert.Empty(t, c.ID())
	assert.Nil(t, c.Knot())
	assert.Equal(t, counter{}, c.State())

	assertNotActivated := func(fn func()) {
		t.Helper()
		defer func() {
			p := recover()
			require.NotNil(t, p, "expected panic")
			err, ok := p.(error)
			require.True(t, ok)
			assert.True(t, IsNotActivated(err))
		}()
		fn()
	}

	assertNotActivated(func() { c.Accept(add{N: 1}) })
	assertNotActivated(func() { c.Subscribe() })

	err := c.Run(context.Background())
	assert.True(t, IsNotActivated(err))

	// Stop before activation is a no-op
	c.Stop()
}

func TestComposite_Compose(t *testing.T) {
	c := NewComposite(NewDefinition[State, Change, Action](counter{}), WithName("shop"))
	require.NoError(t, c.Register(counterPrime(), navigatorPrime()))
	require.NoError(t, c.Compose())

	assert.True(t, c.Active())
	assert.NotEmpty(t, c.ID())
	assert.Equal(t, []string{"counter", "navigator"}, c.Primes())
	assert.Equal(t, "shop", c.Knot().Name())

	sub := c.Subscribe()
	done := start(t, c)

	c.Accept(add{N: 1})
	c.Accept(goTo{Target: variant{Name: "done"}})

	assert.Equal(t, counter{}, next(t, sub))
	assert.Equal(t, counter{Applied: []int{1}}, next(t, sub))
	assert.Equal(t, variant{Name: "done"}, next(t, sub))

	c.Stop()
	require.NoError(t, waitRun(t, done))
}

func TestComposite_DuplicateReducer(t *testing.T) {
	other := NewPrime[State, Change, Action]("other")
	other.On("add", counterReducer)

	c := NewComposite(NewDefinition[State, Change, Action](counter{}))
	require.NoError(t, c.Register(counterPrime(), other))

	err := c.Compose()
	require.Error(t, err)
	assert.True(t, IsDuplicateReducer(err))
	assert.Contains(t, err.Error(), `"counter"`)
	assert.Contains(t, err.Error(), `"other"`)
	assert.Contains(t, err.Error(), "tag=add")
	assert.False(t, c.Active())
}

func TestComposite_DuplicatePrimeName(t *testing.T) {
	c := NewComposite(NewDefinition[State, Change, Action](counter{}))
	require.NoError(t, c.Register(counterPrime()))

	err := c.Register(counterPrime())
	assert.ErrorContains(t, err, "already registered")
}

func TestComposite_RegisterIsAllOrNothing(t *testing.T) {
	c := NewComposite(NewDefinition[State, Change, Action](counter{}))

	err := c.Register(counterPrime(), navigatorPrime(), counterPrime())
	assert.ErrorContains(t, err, `prime "counter" already registered`)
	assert.Empty(t, c.Primes())

	err = c.Register(counterPrime(), nil)
	assert.ErrorContains(t, err, "prime 1 is nil")
	assert.Empty(t, c.Primes())

	require.NoError(t, c.Register(counterPrime(), navigatorPrime()))
	assert.Equal(t, []string{"counter", "navigator"}, c.Primes())
}

func TestComposite_AfterActivation(t *testing.T) {
	c := NewComposite(NewDefinition[State, Change, Action](counter{}))
	require.NoError(t, c.Register(counterPrime()))
	require.NoError(t, c.Compose())

	err := c.Register(navigatorPrime())
	assert.Equal(t, ErrCodeAlreadyActivated, CodeOf(err))

	err = c.Compose()
	assert.Equal(t, ErrCodeAlreadyActivated, CodeOf(err))
}

func TestComposite_ParityWithSingleKnot(t *testing.T) {
	script := []Change{add{N: 2}, add{N: 7}, add{N: 1}}

	collect := func(h Handle[State, Change, Action]) []State {
		for _, c := range script {
			h.Accept(c)
		}
		sub := h.Subscribe()
		done := start(t, h)

		states := []State{next(t, sub)}
		for range script {
			states = append(states, next(t, sub))
		}
		h.Stop()
		require.NoError(t, waitRun(t, done))
		return states
	}

	def := NewDefinition[State, Change, Action](counter{})
	def.On("add", counterReducer)
	single, err := New(def)
	require.NoError(t, err)

	composite := NewComposite(NewDefinition[State, Change, Action](counter{}))
	require.NoError(t, composite.Register(counterPrime()))
	require.NoError(t, composite.Compose())

	assert.Equal(t, collect(single), collect(composite))
}

func TestComposite_WatchersSeeEveryPrime(t *testing.T) {
	var mu sync.Mutex
	var seen []ir.Tag

	def := NewDefinition[State, Change, Action](counter{})
	def.WatchChange(ir.AnyTag, func(c Change) {
		mu.Lock()
		seen = append(seen, c.Tag())
		mu.Unlock()
	})

	c := NewComposite(def)
	require.NoError(t, c.Register(counterPrime(), navigatorPrime()))
	require.NoError(t, c.Compose())

	sub := c.Subscribe()
	done := start(t, c)

	c.Accept(add{N: 1})
	c.Accept(goTo{Target: counter{}})
	next(t, sub)
	next(t, sub)
	next(t, sub)

	c.Stop()
	require.NoError(t, waitRun(t, done))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ir.Tag{"add", "go"}, seen)
}

func TestComposite_PrimeFeedbackAcrossPrimes(t *testing.T) {
	// The loader prime requests fetch; a separate fetcher prime performs it.
	loaderPrime := NewPrime[State, Change, Action]("loader")
	loaderPrime.On("load", func(s State, c Change) (ir.Effect[State, Action], error) {
		return ir.Effect[State, Action]{State: loading{Attempt: 1}, Action: fetch{Attempt: 1}}, nil
	})
	loaderPrime.On("success", func(s State, c Change) (ir.Effect[State, Action], error) {
		return ir.Effect[State, Action]{State: loaded{Data: c.(success).Data}}, nil
	})

	fetcherPrime := NewPrime[State, Change, Action]("fetcher")
	fetcherPrime.Perform("fetch", Switch, func(ctx context.Context, a Action, emit func(Change)) error {
		emit(success{Data: "from fetcher"})
		return nil
	})

	c := NewComposite(NewDefinition[State, Change, Action](idle{}))
	require.NoError(t, c.Register(loaderPrime, fetcherPrime))
	require.NoError(t, c.Compose())

	sub := c.Subscribe()
	done := start(t, c)

	c.Accept(load{})
	assert.Equal(t, loaded{Data: "from fetcher"}, awaitTag(t, sub, "loaded"))

	c.Stop()
	require.NoError(t, waitRun(t, done))
}
