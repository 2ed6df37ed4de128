// Package apps holds the bundled demo applications and the type-erased
// Session the CLI and the scenario harness drive them through.
package apps

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/knot/internal/engine"
	"github.com/roach88/knot/internal/ir"
)

// ErrRejected is returned by Session.Accept once the knot has terminated.
var ErrRejected = errors.New("change rejected: knot terminated")

// Session is a running application with its state, change and action
// types erased to ir.Tagged. Changes are addressed by tag with JSON args.
type Session interface {
	ID() string
	Name() string
	// Changes lists the change tags the application accepts.
	Changes() []ir.Tag
	// Accept decodes args into the change registered for tag and submits it.
	Accept(tag ir.Tag, args json.RawMessage) error
	Subscribe() Stream
	State() ir.Tagged
	Run(ctx context.Context) error
	Stop()
}

// Stream is a type-erased engine.Subscription.
type Stream interface {
	Next(ctx context.Context) (ir.Tagged, error)
	Close()
}

// Decoder builds a change from JSON args.
type Decoder[C ir.Tagged] func(args json.RawMessage) (C, error)

// As returns a Decoder producing a T, which must be a variant of C.
// Unknown fields in args are rejected; empty args decode to the zero T.
func As[T any, C ir.Tagged]() Decoder[C] {
	return func(args json.RawMessage) (C, error) {
		var v T
		var zero C

		if len(bytes.TrimSpace(args)) > 0 {
			dec := json.NewDecoder(bytes.NewReader(args))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&v); err != nil {
				return zero, fmt.Errorf("decode %T: %w", v, err)
			}
		}

		c, ok := any(v).(C)
		if !ok {
			return zero, fmt.Errorf("%T is not a change variant", v)
		}
		return c, nil
	}
}

// session adapts an engine.Handle to Session.
type session[S, C, A ir.Tagged] struct {
	name     string
	handle   engine.Handle[S, C, A]
	decoders map[ir.Tag]Decoder[C]
}

func newSession[S, C, A ir.Tagged](name string, h engine.Handle[S, C, A], decoders map[ir.Tag]Decoder[C]) *session[S, C, A] {
	return &session[S, C, A]{name: name, handle: h, decoders: decoders}
}

func (s *session[S, C, A]) ID() string   { return s.handle.ID() }
func (s *session[S, C, A]) Name() string { return s.name }

func (s *session[S, C, A]) Changes() []ir.Tag {
	tags := make([]ir.Tag, 0, len(s.decoders))
	for tag := range s.decoders {
		tags = append(tags, tag)
	}
	slices.Sort(tags)
	return tags
}

func (s *session[S, C, A]) Accept(tag ir.Tag, args json.RawMessage) error {
	decode, ok := s.decoders[tag]
	if !ok {
		return fmt.Errorf("%s: unknown change %q (accepts %v)", s.name, tag, s.Changes())
	}
	change, err := decode(args)
	if err != nil {
		return fmt.Errorf("%s: change %q: %w", s.name, tag, err)
	}
	if !s.handle.Accept(change) {
		return ErrRejected
	}
	return nil
}

func (s *session[S, C, A]) Subscribe() Stream {
	return stream[S]{sub: s.handle.Subscribe()}
}

func (s *session[S, C, A]) State() ir.Tagged {
	return s.handle.State()
}

func (s *session[S, C, A]) Run(ctx context.Context) error {
	return s.handle.Run(ctx)
}

func (s *session[S, C, A]) Stop() {
	s.handle.Stop()
}

type stream[S ir.Tagged] struct {
	sub *engine.Subscription[S]
}

func (s stream[S]) Next(ctx context.Context) (ir.Tagged, error) {
	v, err := s.sub.Next(ctx)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s stream[S]) Close() {
	s.sub.Close()
}

// AwaitTag reads st until a state tagged tag arrives.
func AwaitTag(ctx context.Context, st Stream, tag ir.Tag) (ir.Tagged, error) {
	for {
		v, err := st.Next(ctx)
		if err != nil {
			return nil, err
		}
		if ir.TagOf(v) == tag {
			return v, nil
		}
	}
}
