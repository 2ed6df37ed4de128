// Package engine implements the knot unidirectional state engine.
//
// A knot owns one State value. Changes arrive from any goroutine, are
// reduced one at a time into a new State plus an optional Action, and the
// Action is fed to asynchronous transformers whose follow-up Changes loop
// back into the same queue.
//
// ARCHITECTURE:
//
// Single-Writer Reduction Loop:
// Every Change, whatever its origin, is funneled into one FIFO queue and
// reduced by a single goroutine. This ensures:
//   - No lost updates or torn reads of State
//   - State publications observed in exactly the order they were produced
//   - Simple reasoning about causality
//
// Change Processing Flow:
//  1. Changes enqueued from Accept, event sources, action transformers and
//     on-enter triggers
//  2. Run() dequeues one change at a time
//  3. Change interceptors run, then the reducer registered for the change tag
//  4. The new State passes the state interceptors, becomes current and is
//     handed to every subscriber
//  5. The Action (if any) passes the action interceptors
//  6. The transition is recorded, on-enter triggers observe the State, and
//     then the Action is routed to its transformers
//
// A panic in an interceptor or watcher fails the knot with
// INTERCEPTOR_FAILED, the same way a panicking reducer fails it with
// REDUCER_FAILED.
//
// Transformers, triggers and sources run on their own goroutines under one
// errgroup. Their Changes re-enter the queue, so serialization still holds.
//
// CRITICAL PATTERNS:
//
// Immutable Dispatch Tables:
// Reducers, transformers, triggers and interceptors are collected by a
// Definition (or Primes of a Composite) and frozen into tag-keyed tables
// at activation. Nothing is registered while the loop is live, so lookups
// take no locks.
//
// Logical Clock:
// Every publication is stamped with a monotonic seq from Clock.Next().
// Subscribers use seq to drop replays they have already seen.
//
// Fail Fast:
// An unhandled change, a failing reducer or a failing transformer
// terminates the knot. Recovery belongs inside reducers and transformers,
// folded into a normal Effect.
package engine
