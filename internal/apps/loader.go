package apps

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/knot/internal/engine"
	"github.com/roach88/knot/internal/ir"
)

// Loader states.
type (
	LoaderState interface{ ir.Tagged }

	Idle    struct{}
	Loading struct {
		URL     string `json:"url"`
		Attempt int    `json:"attempt"`
	}
	Loaded struct {
		URL  string `json:"url"`
		Body string `json:"body"`
	}
	Failed struct {
		URL     string `json:"url"`
		Reason  string `json:"reason"`
		Attempt int    `json:"attempt"`
	}
)

func (Idle) Tag() ir.Tag    { return "idle" }
func (Loading) Tag() ir.Tag { return "loading" }
func (Loaded) Tag() ir.Tag  { return "loaded" }
func (Failed) Tag() ir.Tag  { return "failed" }

// Loader changes.
type (
	LoaderChange interface{ ir.Tagged }

	Load struct {
		URL string `json:"url"`
	}
	// Fetch results name the fetch they answer. A result without one is
	// treated as answering whatever fetch is pending.
	Succeeded struct {
		Body    string `json:"body"`
		URL     string `json:"url,omitempty"`
		Attempt int    `json:"attempt,omitempty"`
	}
	Errored struct {
		Reason  string `json:"reason"`
		URL     string `json:"url,omitempty"`
		Attempt int    `json:"attempt,omitempty"`
	}
	Retry struct{}
	Reset struct{}
)

func (Load) Tag() ir.Tag      { return "load" }
func (Succeeded) Tag() ir.Tag { return "succeeded" }
func (Errored) Tag() ir.Tag   { return "errored" }
func (Retry) Tag() ir.Tag     { return "retry" }
func (Reset) Tag() ir.Tag     { return "reset" }

// Loader actions.
type (
	LoaderAction interface{ ir.Tagged }

	Fetch struct {
		URL     string `json:"url"`
		Attempt int    `json:"attempt"`
	}
)

func (Fetch) Tag() ir.Tag { return "fetch" }

type loaderEffect = ir.Effect[LoaderState, LoaderAction]

// Fetcher retrieves a document. attempt starts at 1.
type Fetcher interface {
	Fetch(ctx context.Context, url string, attempt int) (string, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string, attempt int) (string, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string, attempt int) (string, error) {
	return f(ctx, url, attempt)
}

// DemoFetcher resolves URLs without I/O for deterministic demos:
//
//	ok:<body>          succeeds with body
//	fail:<reason>      always fails
//	flaky:<n>:<body>   fails the first n attempts, then succeeds
//	slow:<ms>:<body>   succeeds with body after ms milliseconds
//
// http and https URLs are fetched with HTTP.
type DemoFetcher struct {
	HTTP *http.Client
}

func (f DemoFetcher) Fetch(ctx context.Context, url string, attempt int) (string, error) {
	scheme, rest, _ := strings.Cut(url, ":")
	switch scheme {
	case "ok":
		return rest, nil
	case "fail":
		return "", fmt.Errorf("%s", rest)
	case "flaky":
		n, body, _ := strings.Cut(rest, ":")
		failures, err := strconv.Atoi(n)
		if err != nil {
			return "", fmt.Errorf("flaky url %q: %w", url, err)
		}
		if attempt <= failures {
			return "", fmt.Errorf("flaky attempt %d of %d", attempt, failures)
		}
		return body, nil
	case "slow":
		n, body, _ := strings.Cut(rest, ":")
		ms, err := strconv.Atoi(n)
		if err != nil {
			return "", fmt.Errorf("slow url %q: %w", url, err)
		}
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
			return body, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	case "http", "https":
		return f.get(ctx, url)
	default:
		return "", fmt.Errorf("unsupported url %q", url)
	}
}

func (f DemoFetcher) get(ctx context.Context, url string) (string, error) {
	client := f.HTTP
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return string(body), nil
}

// LoaderConfig parameterizes the loader application.
type LoaderConfig struct {
	Fetcher     Fetcher
	MaxAttempts int           // Attempts before Failed becomes final (default 3)
	Backoff     time.Duration // Delay before each automatic retry
}

// NewLoaderDefinition declares the loader knot:
//
//	load       any → Loading, requests Fetch (Switch: a new load cancels the old fetch)
//	succeeded  Loading → Loaded (stale results are dropped)
//	errored    Loading → Failed (stale results are dropped)
//	retry      Failed → Loading, requests Fetch (ignored in other states)
//	reset      any → Idle
//
// Entering Failed with attempts left schedules a retry after Backoff.
func NewLoaderDefinition(cfg LoaderConfig) *engine.Definition[LoaderState, LoaderChange, LoaderAction] {
	if cfg.Fetcher == nil {
		cfg.Fetcher = DemoFetcher{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	def := engine.NewDefinition[LoaderState, LoaderChange, LoaderAction](Idle{})

	def.On("load", func(s LoaderState, c LoaderChange) (loaderEffect, error) {
		url := c.(Load).URL
		return loaderEffect{State: Loading{URL: url, Attempt: 1}, Action: Fetch{URL: url, Attempt: 1}}, nil
	})

	def.On("succeeded", func(s LoaderState, c LoaderChange) (loaderEffect, error) {
		r := c.(Succeeded)
		l, ok, err := pending(s, c, r.URL, r.Attempt)
		if err != nil || !ok {
			return loaderEffect{State: s}, err
		}
		return loaderEffect{State: Loaded{URL: l.URL, Body: r.Body}}, nil
	})

	def.On("errored", func(s LoaderState, c LoaderChange) (loaderEffect, error) {
		r := c.(Errored)
		l, ok, err := pending(s, c, r.URL, r.Attempt)
		if err != nil || !ok {
			return loaderEffect{State: s}, err
		}
		return loaderEffect{State: Failed{URL: l.URL, Reason: r.Reason, Attempt: l.Attempt}}, nil
	})

	def.On("retry", func(s LoaderState, c LoaderChange) (loaderEffect, error) {
		f, ok := s.(Failed)
		if !ok {
			// A retry scheduled before a new load or reset is stale
			return loaderEffect{State: s}, nil
		}
		next := f.Attempt + 1
		return loaderEffect{State: Loading{URL: f.URL, Attempt: next}, Action: Fetch{URL: f.URL, Attempt: next}}, nil
	})

	def.On("reset", func(s LoaderState, c LoaderChange) (loaderEffect, error) {
		return loaderEffect{State: Idle{}}, nil
	})

	def.Perform("fetch", engine.Switch, func(ctx context.Context, a LoaderAction, emit func(LoaderChange)) error {
		f := a.(Fetch)
		body, err := cfg.Fetcher.Fetch(ctx, f.URL, f.Attempt)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			emit(Errored{Reason: err.Error(), URL: f.URL, Attempt: f.Attempt})
			return nil
		}
		emit(Succeeded{Body: body, URL: f.URL, Attempt: f.Attempt})
		return nil
	})

	def.OnEnter("failed", engine.Switch, func(ctx context.Context, s LoaderState, emit func(LoaderChange)) error {
		if s.(Failed).Attempt >= cfg.MaxAttempts {
			return nil
		}
		if cfg.Backoff > 0 {
			select {
			case <-time.After(cfg.Backoff):
			case <-ctx.Done():
				return nil
			}
		}
		emit(Retry{})
		return nil
	})

	return def
}

// pending returns the Loading state a fetch result answers. A result naming
// a fetch that is no longer pending (reset or superseded) is stale and
// reported with ok false. A result naming no fetch outside Loading is an
// unhandled change.
func pending(s LoaderState, c LoaderChange, url string, attempt int) (Loading, bool, error) {
	l, loading := s.(Loading)
	if attempt == 0 {
		if !loading {
			return Loading{}, false, engine.Unexpected(s, c)
		}
		return l, true, nil
	}
	if loading && l.URL == url && l.Attempt == attempt {
		return l, true, nil
	}
	return Loading{}, false, nil
}

func loaderDecoders() map[ir.Tag]Decoder[LoaderChange] {
	return map[ir.Tag]Decoder[LoaderChange]{
		"load":      As[Load, LoaderChange](),
		"succeeded": As[Succeeded, LoaderChange](),
		"errored":   As[Errored, LoaderChange](),
		"retry":     As[Retry, LoaderChange](),
		"reset":     As[Reset, LoaderChange](),
	}
}

// NewLoader starts a loader session.
func NewLoader(cfg LoaderConfig, opts ...engine.Option) (Session, error) {
	opts = append([]engine.Option{engine.WithName("loader")}, opts...)
	k, err := engine.New(NewLoaderDefinition(cfg), opts...)
	if err != nil {
		return nil, err
	}
	return newSession[LoaderState, LoaderChange, LoaderAction]("loader", k, loaderDecoders()), nil
}
