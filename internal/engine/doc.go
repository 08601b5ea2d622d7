// Package engine implements the reactive flow scheduler.
//
// The engine reads a flow type's method registry once at construction and
// drives each run (one Kickoff) to quiescence:
//
//  1. Emit FlowStarted and merge kickoff inputs into the state.
//  2. Launch every start method as its own goroutine branch.
//  3. After each completion, resolve the router chain for that trigger
//     sequentially, then fan out to the triggered listeners concurrently.
//  4. Wait for every branch and everything it spawned (structured waiting).
//  5. The final output is the last recorded completion; emit FlowFinished.
//
// CONCURRENCY:
//
// Branches run concurrently. A single run mutex serializes the output log,
// execution counts and pending AND-join sets, so completion order is one
// global order and an AND join can never lose a removal or fire twice for
// the same set of completions. The state container has its own lock; no
// code path holds both.
//
// FAILURES:
//
// A method body that returns an error or panics is reported as a
// MethodExecutionError, logged, and stops only its own branch. Kickoff
// fails only for configuration problems, state validation, a missing start
// method, an exceeded step bound, or a cancelled context.
package engine
