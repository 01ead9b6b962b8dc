package engine

import (
	"fmt"
	"sync/atomic"

	"github.com/gatehouse-io/gatehouse/pkg/domain"
	"github.com/gatehouse-io/gatehouse/pkg/pattern"
)

// Chain is a fixed, ordered list of stages bound to one URL pattern, or a
// bypass marker. A bypass chain runs zero stages and creates no security
// context: any path it matches carries no authentication or authorization
// guarantees.
type Chain struct {
	Name    string
	Pattern *pattern.Pattern
	Bypass  bool
	Stages  []Stage
}

// Registry is the ordered, immutable sequence of chains built at startup.
// Selection is strict first-match-wins in declaration order; the most
// specific pattern belongs first, by convention rather than enforcement.
// A built registry is read-only and safe under unbounded concurrent reads.
type Registry struct {
	chains []*Chain
}

// NewRegistry validates and builds a registry. Validation is eager and
// fails fast: a missing final catch-all, an empty chain, duplicate stages,
// a stage list out of canonical order, or a non-terminal authorize stage are
// all startup errors rather than per-request surprises.
func NewRegistry(chains []*Chain) (*Registry, error) {
	if len(chains) == 0 {
		return nil, fmt.Errorf("engine: registry requires at least one chain")
	}
	for i, c := range chains {
		if c.Pattern == nil {
			return nil, fmt.Errorf("engine: chain %q (entry %d) has no pattern", c.Name, i)
		}
		if c.Bypass {
			if len(c.Stages) > 0 {
				return nil, fmt.Errorf("engine: bypass chain %q must not declare stages", c.Name)
			}
			continue
		}
		if err := validateStages(c.Stages); err != nil {
			return nil, fmt.Errorf("engine: chain %q: %w", c.Name, err)
		}
	}
	last := chains[len(chains)-1]
	if !last.Pattern.CatchAll() {
		return nil, fmt.Errorf("engine: final chain %q pattern %q is not a catch-all; requests matching nothing would have no defined chain", last.Name, last.Pattern)
	}
	return &Registry{chains: chains}, nil
}

func validateStages(stages []Stage) error {
	if len(stages) == 0 {
		return fmt.Errorf("chain declares no stages")
	}

	prevRank := 0
	prevName := ""
	authorizeCount := 0
	seen := map[string]bool{}

	for _, s := range stages {
		name := s.Name()
		rank, known := canonicalRank[name]
		if !known {
			return fmt.Errorf("unknown stage %q", name)
		}
		if seen[name] {
			return fmt.Errorf("stage %q appears twice", name)
		}
		seen[name] = true
		if rank < prevRank {
			return fmt.Errorf("stage %q must come before %q", name, prevName)
		}
		prevRank, prevName = rank, name
		if name == StageAuthorize {
			authorizeCount++
		}
	}

	if authorizeCount != 1 {
		return fmt.Errorf("chain requires exactly one authorize stage, found %d", authorizeCount)
	}
	if stages[len(stages)-1].Name() != StageAuthorize {
		return fmt.Errorf("authorize must be the terminal stage")
	}
	return nil
}

// Select returns the first chain whose pattern matches the canonical path.
// A miss is a configuration defect (the build step requires a catch-all) and
// must be treated as deny-by-default by the caller.
func (r *Registry) Select(canonicalPath string) (*Chain, error) {
	for _, c := range r.chains {
		if c.Pattern.Matches(canonicalPath) {
			return c, nil
		}
	}
	return nil, domain.ErrNoMatchingChain
}

// Chains returns the registered chains in declaration order, for the admin
// surface. Callers must not mutate the result.
func (r *Registry) Chains() []*Chain { return r.chains }

// Holder publishes the active registry atomically so configuration reloads
// swap the full chain set without pausing request processing. A failed
// rebuild leaves the previous registry in place.
type Holder struct {
	current atomic.Pointer[Registry]
}

// NewHolder creates a holder publishing r.
func NewHolder(r *Registry) *Holder {
	h := &Holder{}
	h.current.Store(r)
	return h
}

// Load returns the active registry.
func (h *Holder) Load() *Registry { return h.current.Load() }

// Swap publishes r as the active registry.
func (h *Holder) Swap(r *Registry) { h.current.Store(r) }
