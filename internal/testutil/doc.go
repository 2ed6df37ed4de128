// Package testutil holds deterministic helpers shared by tests and the
// scenario harness: predictable knot IDs and bounded stream collection.
package testutil
