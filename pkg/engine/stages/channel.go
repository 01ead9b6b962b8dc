package stages

import (
	"context"

	"github.com/gatehouse-io/gatehouse/pkg/domain"
	"github.com/gatehouse-io/gatehouse/pkg/engine"
)

// ChannelStage enforces the transport the chain demands before any identity
// logic runs: an insecure request is redirected to its secure equivalent.
type ChannelStage struct {
	requireSecure bool
	secureHost    string
}

// NewChannel creates the protocol-redirection stage. secureHost overrides
// the redirect host; empty keeps the request host.
func NewChannel(requireSecure bool, secureHost string) *ChannelStage {
	return &ChannelStage{requireSecure: requireSecure, secureHost: secureHost}
}

func (s *ChannelStage) Name() string { return engine.StageChannel }

func (s *ChannelStage) Invoke(ctx context.Context, req *domain.Request, sec *domain.SecurityContext, next engine.Continuation) (domain.Outcome, error) {
	if !s.requireSecure || req.Secure {
		return next.Proceed(ctx, req, sec)
	}
	host := s.secureHost
	if host == "" {
		host = req.Host
	}
	target := "https://" + host + req.RawPath
	if req.Query != "" {
		target += "?" + req.Query
	}
	return domain.Redirect(target), nil
}
