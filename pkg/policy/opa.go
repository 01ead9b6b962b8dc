package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"

	"github.com/gatehouse-io/gatehouse/pkg/domain"
)

const defaultEntrypoint = "gatehouse/authz"

// OPAOptions control construction of an OPA-backed decider.
type OPAOptions struct {
	// Entrypoint is the decision document path (e.g. "gatehouse/authz").
	Entrypoint string
	// Modules contains the Rego modules to load, keyed by filename.
	Modules map[string]string
}

// OPADecider evaluates access decisions through an embedded OPA instance.
// The decision document may be a boolean, or an object carrying `verdict`
// (allow / deny / require_authentication) and an optional `reason`.
type OPADecider struct {
	entrypoint string
	prepared   rego.PreparedEvalQuery
}

// NewOPADecider parses and compiles the supplied modules, surfacing syntax
// errors at startup rather than per request.
func NewOPADecider(ctx context.Context, opts OPAOptions) (*OPADecider, error) {
	entry := strings.TrimSpace(opts.Entrypoint)
	if entry == "" {
		entry = defaultEntrypoint
	}
	if len(opts.Modules) == 0 {
		return nil, errors.New("policy: opa decider requires at least one rego module")
	}

	names := make([]string, 0, len(opts.Modules))
	for name := range opts.Modules {
		names = append(names, name)
	}
	sort.Strings(names)

	regoOpts := make([]func(*rego.Rego), 0, len(names)+1)
	regoOpts = append(regoOpts, rego.Query("data."+strings.ReplaceAll(entry, "/", ".")))
	for _, name := range names {
		module, err := ast.ParseModuleWithOpts(name, opts.Modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("policy: parse rego module %q: %w", name, err)
		}
		regoOpts = append(regoOpts, rego.ParsedModule(module))
	}

	prepared, err := rego.New(regoOpts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy: compile rego modules: %w", err)
	}

	return &OPADecider{entrypoint: entry, prepared: prepared}, nil
}

// Decide evaluates the policy for the request.
func (d *OPADecider) Decide(ctx context.Context, path, method string, auth domain.Authentication) (Decision, error) {
	input := map[string]any{
		"path":          path,
		"method":        method,
		"principal":     auth.Principal,
		"authorities":   auth.Authorities,
		"authenticated": auth.Real(),
		"anonymous":     auth.Anonymous(),
	}

	results, err := d.prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("policy: opa evaluation: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// An undefined decision document refuses, it never allows.
		return refuse(auth, "policy produced no decision"), nil
	}

	switch value := results[0].Expressions[0].Value.(type) {
	case bool:
		if value {
			return Decision{Verdict: VerdictAllow}, nil
		}
		return refuse(auth, "denied by policy"), nil
	case map[string]any:
		return d.objectDecision(value, auth)
	default:
		return Decision{}, fmt.Errorf("policy: unexpected decision type %T", value)
	}
}

func (d *OPADecider) objectDecision(value map[string]any, auth domain.Authentication) (Decision, error) {
	reason, _ := value["reason"].(string)
	if allow, ok := value["allow"].(bool); ok {
		if allow {
			return Decision{Verdict: VerdictAllow, Reason: reason}, nil
		}
		return refuse(auth, reason), nil
	}

	verdict, _ := value["verdict"].(string)
	switch Verdict(verdict) {
	case VerdictAllow:
		return Decision{Verdict: VerdictAllow, Reason: reason}, nil
	case VerdictDeny:
		return Decision{Verdict: VerdictDeny, Reason: reason}, nil
	case VerdictRequireAuthentication:
		return Decision{Verdict: VerdictRequireAuthentication, Reason: reason}, nil
	case "":
		return Decision{}, errors.New("policy: decision object has neither allow nor verdict")
	default:
		return Decision{}, fmt.Errorf("policy: unknown verdict %q", verdict)
	}
}
