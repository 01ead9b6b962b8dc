package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-io/gatehouse/pkg/domain"
)

const booleanPolicy = `package gatehouse

default authz := false

authz if {
	input.authenticated
	input.method == "GET"
}
`

const objectPolicy = `package gatehouse

default authz := {"verdict": "require_authentication", "reason": "login required"}

authz := {"verdict": "allow"} if {
	input.authenticated
}
`

func TestOPADeciderBooleanDocument(t *testing.T) {
	ctx := context.Background()
	d, err := NewOPADecider(ctx, OPAOptions{Modules: map[string]string{"authz.rego": booleanPolicy}})
	require.NoError(t, err)

	dec, err := d.Decide(ctx, "/data", "GET", domain.NewAuthentication("alice"))
	require.NoError(t, err)
	assert.Equal(t, VerdictAllow, dec.Verdict)

	dec, err = d.Decide(ctx, "/data", "POST", domain.NewAuthentication("alice"))
	require.NoError(t, err)
	assert.Equal(t, VerdictDeny, dec.Verdict, "a real principal refused by policy is denied")

	dec, err = d.Decide(ctx, "/data", "GET", domain.NewAnonymous("anonymous"))
	require.NoError(t, err)
	assert.Equal(t, VerdictRequireAuthentication, dec.Verdict)
}

func TestOPADeciderObjectDocument(t *testing.T) {
	ctx := context.Background()
	d, err := NewOPADecider(ctx, OPAOptions{Modules: map[string]string{"authz.rego": objectPolicy}})
	require.NoError(t, err)

	dec, err := d.Decide(ctx, "/data", "GET", domain.NewAuthentication("alice"))
	require.NoError(t, err)
	assert.Equal(t, VerdictAllow, dec.Verdict)

	dec, err = d.Decide(ctx, "/data", "GET", domain.NewAnonymous("anonymous"))
	require.NoError(t, err)
	assert.Equal(t, VerdictRequireAuthentication, dec.Verdict)
	assert.Equal(t, "login required", dec.Reason)
}

func TestOPADeciderUndefinedDocumentRefuses(t *testing.T) {
	ctx := context.Background()
	// No default rule: the document is undefined unless the body matches.
	module := `package gatehouse

authz := true if {
	input.authenticated
}
`
	d, err := NewOPADecider(ctx, OPAOptions{Modules: map[string]string{"authz.rego": module}})
	require.NoError(t, err)

	dec, err := d.Decide(ctx, "/data", "GET", domain.NewAnonymous("anonymous"))
	require.NoError(t, err)
	assert.Equal(t, VerdictRequireAuthentication, dec.Verdict, "undefined never allows")
}

func TestNewOPADeciderErrors(t *testing.T) {
	ctx := context.Background()

	_, err := NewOPADecider(ctx, OPAOptions{})
	require.Error(t, err, "at least one module is required")

	_, err = NewOPADecider(ctx, OPAOptions{Modules: map[string]string{"bad.rego": "package gatehouse\n\nauthz :="}})
	require.Error(t, err, "syntax errors surface at construction")
}
