// Package engine resolves named steps in dependency order and remembers
// which ones have finished.
//
// # Overview
//
// A Runner holds a pending set of steps. Each step may depend on at most one
// other step by name. Resolve repeatedly walks the pending set in load order
// and runs every step whose dependency has a truthy outcome, recording the
// outcome immediately so later steps in the same pass can run. After every
// attempt the complete set, the attempt counter and the shared context are
// saved through a StateStore, so a crashed or interrupted run resumes where
// it left off and never repeats a finished step.
//
// # Steps
//
// A Step wraps an Action with retry accounting. Every attempt after the
// first sleeps for FailingStepDelay; once MaxAttempts is exceeded the step
// returns a fatal RETRIES_EXHAUSTED error and the run stops.
//
// # Errors
//
// Errors carry an ErrorClass:
//
//   - transient: a failed attempt that will be retried
//   - permanent: a usage error such as loading a duplicate step
//   - fatal: the run must stop (retries exhausted, deadlock, persistence)
//
// Use IsFatal, IsDeadlock and IsRetriesExhausted to inspect them. The
// engine never exits the process; callers decide how to report a fatal
// error.
package engine
