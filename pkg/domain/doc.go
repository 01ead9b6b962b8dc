// Package domain defines the core types shared across the gatehouse pipeline.
//
// This package contains pure domain logic with no dependencies outside the
// Go standard library: the normalized request, the per-request security
// context, the outcome model, and the error taxonomy. Infrastructure packages
// (firewall, engine, storage, policy, telemetry) depend on these types; the
// dependency direction is never reversed.
package domain
