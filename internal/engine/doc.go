// Package engine implements the dclare reactive transaction engine.
//
// A universe owns a tree of mutables and an immutable State holding every
// property value. Hosts queue actions; the universe runs each one inside a
// universe transaction that re-runs the affected observers until nothing
// changes any more, checks consistency and commits the result.
//
// ARCHITECTURE:
//
// Single-Writer Main Loop:
// One goroutine takes actions from the bounded input queue and runs them one
// universe transaction at a time. This ensures:
// - Every committed State is a fixpoint of the observers
// - History can be walked with Backward and Forward
// - Hosts see a consistent snapshot from CurrentState at any time
//
// Transaction Tree:
// 1. The action is queued on the root mutable at priority one
// 2. The root MutableTransaction moves priority one into zero and runs the
//    batch: its own leaves and the children that have work
// 3. Child MutableTransactions do the same for their subtree
// 4. Observer runs record their reads; a change to a read value queues the
//    observer again
// 5. With nothing left at one, the root opens a deferred pass for the lowest
//    non-empty level two to five
// 6. Orphans are swept and the loop ends when no queue holds work
//
// Parallel Batches:
// Sibling items of one batch run on separate State forks, in random order, on
// the worker pool when a slot is free. Forks are merged slot by slot;
// a conflicting write reruns the batch sequentially.
//
// CRITICAL PATTERNS:
//
// Plumbing Properties:
// Queues, observer indexes, parent links and change ids live in State next to
// domain values. They are marked plumbing and never count as changes, never
// ripple out and are never checked for consistency.
//
// Change Quota:
// A rule set that does not converge is stopped by ChangeQuota. Crossing a
// limit starts recording ObserverTrace entries; twice the limit kills the
// universe with TooManyChangesError.
//
// Constants:
// Constant properties are derived once per object and kept in ConstantState
// outside State, with cycle detection on the Derivation stack.
package engine
