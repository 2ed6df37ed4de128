package ir

// Tag is the discriminant of a State, Change or Action variant.
//
// Tags are plain strings so that dispatch tables can be keyed by them and so
// that they read well in logs, journals and scenario files. A tag names a
// variant (a "subtype"), not a value: two Loading states with different
// payloads share the Tag "loading".
type Tag string

// AnyTag matches every variant when used as a watcher filter.
const AnyTag Tag = "*"

// String implements fmt.Stringer.
func (t Tag) String() string {
	return string(t)
}

// Matches reports whether a value tagged v passes a filter of t.
func (t Tag) Matches(v Tag) bool {
	return t == AnyTag || t == v
}

// Tagged is implemented by every State, Change and Action variant.
type Tagged interface {
	Tag() Tag
}

// TagOf returns the tag of v, or "" when v is a nil interface.
func TagOf(v Tagged) Tag {
	if v == nil {
		return ""
	}
	return v.Tag()
}

// Present reports whether an optional tagged value holds a variant.
//
// Engines are generic over interface-typed sum types, so "no action" is the
// nil interface value.
func Present[T Tagged](v T) bool {
	return any(v) != nil
}

// Effect is the sole output of a reducer: exactly one new State and at most
// one Action. A nil Action means the reduction requests no side effect.
type Effect[S, A Tagged] struct {
	State  S
	Action A
}

// HasAction reports whether the effect requests a side effect.
func (e Effect[S, A]) HasAction() bool {
	return Present(e.Action)
}
