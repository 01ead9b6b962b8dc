// Package stages implements the pipeline units executed by the engine, in
// their canonical order: secure-channel enforcement, security-context
// establishment, concurrent-session accounting, authentication mechanisms,
// request wrapper installation, subject propagation, remember-me fallback,
// anonymous fallback, the exception boundary, and terminal authorization.
//
// Stages hold their collaborators (stores, checkers, deciders) and bound
// every external call with the configured collaborator timeout; a timeout is
// a stage failure, never an allow.
package stages
