package apps

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/knot/internal/engine"
)

// Env carries process-level collaborators into an application.
type Env struct {
	Logger *slog.Logger
}

// App is a bundled application.
type App struct {
	Name        string
	Description string
	New         func(env Env, opts ...engine.Option) (Session, error)
}

var registry = map[string]App{
	"loader": {
		Name:        "loader",
		Description: "single knot: load a URL, retry on failure (urls: ok:<body>, fail:<reason>, flaky:<n>:<body>, slow:<ms>:<body>, http(s)://)",
		New: func(env Env, opts ...engine.Option) (Session, error) {
			return NewLoader(LoaderConfig{}, opts...)
		},
	},
	"cart": {
		Name:        "cart",
		Description: "composite knot: items prime + checkout prime with a demo payment gateway (limit 100000 cents)",
		New: func(env Env, opts ...engine.Option) (Session, error) {
			return NewCart(CartConfig{Gateway: &DemoGateway{Limit: 100000}, Logger: env.Logger}, opts...)
		},
	},
}

// Lookup returns the application registered under name.
func Lookup(name string) (App, bool) {
	app, ok := registry[strings.ToLower(name)]
	return app, ok
}

// Names returns the registered application names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// All returns every registered application sorted by name.
func All() []App {
	out := make([]App, 0, len(registry))
	for _, name := range Names() {
		out = append(out, registry[name])
	}
	return out
}
