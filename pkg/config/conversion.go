package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gatehouse-io/gatehouse/internal/governance"
	"github.com/gatehouse-io/gatehouse/pkg/engine"
	"github.com/gatehouse-io/gatehouse/pkg/engine/stages"
	"github.com/gatehouse-io/gatehouse/pkg/firewall"
	"github.com/gatehouse-io/gatehouse/pkg/identity"
	"github.com/gatehouse-io/gatehouse/pkg/pattern"
	"github.com/gatehouse-io/gatehouse/pkg/policy"
	"github.com/gatehouse-io/gatehouse/pkg/storage"
)

// Runtime holds the long-lived collaborators materialized from a Config.
// Stores and the identity directory survive configuration reloads; only the
// chain registry is rebuilt and swapped.
type Runtime struct {
	Firewall        *firewall.Firewall
	Registry        *engine.Registry
	SessionStore    storage.SessionStore
	SessionRegistry *storage.SessionRegistry
	TokenStore      storage.TokenStore
	Directory       *identity.Directory
	Decider         policy.Decider
}

// Build materializes the runtime collaborators and the chain registry from c.
// All validation the registry performs (stage order, terminal authorize,
// final catch-all) happens here, so an invalid configuration never serves a
// request.
func (c *Config) Build(ctx context.Context, logger *slog.Logger) (*Runtime, error) {
	fw := firewall.New(firewall.Policy{
		AllowedMethods:           c.Firewall.AllowedMethods,
		AllowSemicolon:           c.Firewall.AllowSemicolon,
		UnsafeAllowAnyHTTPMethod: c.Firewall.UnsafeAllowAnyHTTPMethod,
	})

	rt := &Runtime{
		Firewall:     fw,
		SessionStore: storage.NewMemorySessionStore(time.Duration(c.Session.TTLSeconds) * time.Second),
		TokenStore:   storage.NewMemoryTokenStore(),
	}
	if c.Session.MaxConcurrent > 0 {
		// The registry's idle eviction follows the store TTL so a session
		// that expired out of the store frees its concurrency slot too.
		rt.SessionRegistry = storage.NewSessionRegistry(
			c.Session.MaxConcurrent,
			c.Session.RejectNewOnLimit,
			time.Duration(c.Session.TTLSeconds)*time.Second,
		)
	}

	dir, err := buildDirectory(c.Auth)
	if err != nil {
		return nil, err
	}
	rt.Directory = dir

	decider, err := buildDecider(ctx, c.Access)
	if err != nil {
		return nil, err
	}
	rt.Decider = decider

	registry, err := c.BuildRegistry(rt, logger)
	if err != nil {
		return nil, err
	}
	rt.Registry = registry
	return rt, nil
}

// BuildRegistry converts the chain declarations into an engine registry
// backed by rt's collaborators. Reloads call it against the existing runtime
// so sessions and tokens survive a chain swap.
func (c *Config) BuildRegistry(rt *Runtime, logger *slog.Logger) (*engine.Registry, error) {
	timeout := time.Duration(c.Governance.CollaboratorTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = governance.DefaultTimeoutConfig().Collaborator
	}

	chains := make([]*engine.Chain, 0, len(c.Chains))
	for _, cc := range c.Chains {
		p, err := pattern.Compile(cc.Pattern, pattern.Kind(cc.Kind))
		if err != nil {
			return nil, fmt.Errorf("chain %q: %w", cc.Name, err)
		}
		chain := &engine.Chain{Name: cc.Name, Pattern: p, Bypass: cc.Bypass}
		if !cc.Bypass {
			chain.Stages, err = c.buildStages(cc, rt, timeout, logger)
			if err != nil {
				return nil, fmt.Errorf("chain %q: %w", cc.Name, err)
			}
		}
		chains = append(chains, chain)
	}
	return engine.NewRegistry(chains)
}

func (c *Config) buildStages(cc ChainConfig, rt *Runtime, timeout time.Duration, logger *slog.Logger) ([]engine.Stage, error) {
	sessionPolicy, err := stages.ParseSessionPolicy(cc.Session)
	if err != nil {
		return nil, err
	}

	out := make([]engine.Stage, 0, len(cc.Stages))
	for _, name := range cc.Stages {
		switch name {
		case engine.StageChannel:
			out = append(out, stages.NewChannel(true, c.Server.SecureHost))
		case engine.StageSessionContext:
			out = append(out, stages.NewSessionContext(rt.SessionStore, sessionPolicy, timeout, logger))
		case engine.StageConcurrency:
			if rt.SessionRegistry == nil {
				return nil, fmt.Errorf("stage %q requires session.max_concurrent > 0", name)
			}
			out = append(out, stages.NewConcurrency(rt.SessionRegistry, rt.SessionStore, timeout, logger))
		case engine.StageBasicAuth:
			out = append(out, stages.NewBasicAuth(rt.Directory, c.Auth.Realm, timeout, logger))
		case engine.StageBearerAuth:
			out = append(out, stages.NewBearerToken(rt.Directory, timeout, logger))
		case engine.StageSecurityView:
			out = append(out, stages.NewSecurityView())
		case engine.StageRunAs:
			out = append(out, stages.NewRunAs(logger))
		case engine.StageRememberMe:
			cookie := c.Auth.RememberMe.CookieName
			if cookie == "" {
				cookie = stages.DefaultRememberMeCookie
			}
			out = append(out, stages.NewRememberMe(rt.TokenStore, rt.Directory, cookie, timeout, logger))
		case engine.StageAnonymous:
			out = append(out, stages.NewAnonymous(c.Auth.Anonymous.Principal, c.Auth.Anonymous.Authorities...))
		case engine.StageBoundary:
			out = append(out, stages.NewBoundary(c.entryPoint(), logger))
		case engine.StageAuthorize:
			out = append(out, stages.NewAuthorize(rt.Decider, timeout, logger))
		default:
			return nil, fmt.Errorf("unknown stage %q", name)
		}
	}
	return out, nil
}

func (c *Config) entryPoint() stages.EntryPoint {
	if strings.EqualFold(c.Auth.EntryPoint, "redirect") {
		return &stages.LoginRedirectEntryPoint{LoginPath: c.Auth.LoginPath}
	}
	return &stages.ChallengeEntryPoint{Scheme: fmt.Sprintf("Basic realm=%q", c.Auth.Realm)}
}

func buildDirectory(a AuthConfig) (*identity.Directory, error) {
	users := make([]identity.User, 0, len(a.Users))
	for _, u := range a.Users {
		users = append(users, identity.User{
			Username:    u.Username,
			Password:    u.Password,
			Authorities: u.Authorities,
			RunAs:       u.RunAs,
		})
	}
	tokens := make(map[string]string, len(a.Tokens))
	for _, t := range a.Tokens {
		tokens[t.Token] = t.Principal
	}
	return identity.NewDirectory(users, tokens)
}

func buildDecider(ctx context.Context, a AccessConfig) (policy.Decider, error) {
	if strings.EqualFold(a.Decider, "opa") {
		modules := make(map[string]string, len(a.Rego.Modules)+len(a.Rego.ModuleFiles))
		for name, src := range a.Rego.Modules {
			modules[name] = src
		}
		for _, path := range a.Rego.ModuleFiles {
			//nolint:gosec // Module paths come from operator configuration
			src, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read rego module %s: %w", path, err)
			}
			modules[filepath.Base(path)] = string(src)
		}
		return policy.NewOPADecider(ctx, policy.OPAOptions{
			Entrypoint: a.Rego.Entrypoint,
			Modules:    modules,
		})
	}

	rules := make([]policy.Rule, 0, len(a.Rules))
	for _, rc := range a.Rules {
		p, err := pattern.Compile(rc.Pattern, pattern.Kind(rc.Kind))
		if err != nil {
			return nil, fmt.Errorf("access rule %q: %w", rc.Pattern, err)
		}
		rules = append(rules, policy.Rule{
			Pattern:     p,
			Methods:     rc.Methods,
			Access:      policy.Access(rc.Access),
			Authorities: rc.Authorities,
		})
	}
	return policy.NewRuleDecider(rules)
}
