// Package engine contains the chain registry and the stage-execution engine:
// the ordered, immutable mapping from URL patterns to security chains, the
// executor that threads a request-scoped security context through a chain's
// stages, and the HTTP adapter translating outcomes into responses.
//
// Stages implement a single capability, Invoke, and receive an explicit
// Continuation for the remainder of the chain. A stage does exactly one of
// three things: call the continuation, return a terminal outcome, or raise
// one of the recognized security failures for the boundary stage to recover.
package engine
