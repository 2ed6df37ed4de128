// Package ir provides the shared value vocabulary for knot engines.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal. This keeps the
// vocabulary the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Every State, Change and Action variant carries a Tag discriminant
//   - Dispatch is by Tag lookup, never by reflection on Go types
//   - Transition records are stamped with logical seq numbers, never wall-clock time
//   - Transition IDs are content-addressed over RFC 8785 canonical JSON
package ir
