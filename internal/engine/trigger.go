package engine

import "github.com/roach88/knot/internal/ir"

// edgeDetector tracks whether the published state is inside a target
// variant and reports only the transitions into it.
//
// Only the tag boundary matters: a new value of the same variant while
// already inside does not fire. The first observed state counts as an
// entry when it matches, because there is no previous state.
//
// Not safe for concurrent use; owned by the reduction loop.
type edgeDetector struct {
	target ir.Tag
	inside bool
}

func newEdgeDetector(target ir.Tag) *edgeDetector {
	return &edgeDetector{target: target}
}

// observe records tag and reports whether it is an entry into the target.
func (d *edgeDetector) observe(tag ir.Tag) bool {
	matches := tag == d.target
	entered := matches && !d.inside
	d.inside = matches
	return entered
}
