package engine

import (
	"time"

	"github.com/gatehouse-io/gatehouse/pkg/domain"
)

// Events receives observability hooks from the pipeline. Implementations
// must be fast and must not fail: the hooks are not part of the security
// contract and can never influence an outcome.
type Events interface {
	// RequestRejected fires when the firewall refuses a request.
	RequestRejected(req *domain.Request, reason domain.RejectionReason)
	// ChainSelected fires after registry selection, before any stage runs.
	ChainSelected(req *domain.Request, chain string, bypass bool)
	// StageEntered fires before each stage invocation.
	StageEntered(req *domain.Request, chain, stage string)
	// Outcome fires once per request with the terminal outcome.
	Outcome(req *domain.Request, chain string, outcome domain.Outcome, elapsed time.Duration)
}

// NopEvents discards all hooks.
type NopEvents struct{}

func (NopEvents) RequestRejected(*domain.Request, domain.RejectionReason)        {}
func (NopEvents) ChainSelected(*domain.Request, string, bool)                    {}
func (NopEvents) StageEntered(*domain.Request, string, string)                   {}
func (NopEvents) Outcome(*domain.Request, string, domain.Outcome, time.Duration) {}
