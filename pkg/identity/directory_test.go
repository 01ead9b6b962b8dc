package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-io/gatehouse/pkg/engine/stages"
)

func testDirectory(t *testing.T) *Directory {
	t.Helper()
	d, err := NewDirectory([]User{
		{Username: "alice", Password: "wonder", Authorities: []string{"ROLE_USER", "ROLE_ADMIN"}},
		{Username: "deploy", Password: "pipeline", Authorities: []string{"ROLE_DEPLOY"}, RunAs: "alice"},
	}, map[string]string{
		"tok-alice":  "alice",
		"tok-orphan": "ghost",
	})
	require.NoError(t, err)
	return d
}

func TestCheckValidCredentials(t *testing.T) {
	d := testDirectory(t)

	auth, err := d.Check(context.Background(), "alice", "wonder")
	require.NoError(t, err)
	assert.Equal(t, "alice", auth.Principal)
	assert.True(t, auth.Real())
	assert.True(t, auth.HasAuthority("ROLE_ADMIN"))
	assert.Nil(t, auth.RunAs)
}

func TestCheckWrongPasswordAndUnknownUserLookAlike(t *testing.T) {
	d := testDirectory(t)

	_, err := d.Check(context.Background(), "alice", "nope")
	assert.ErrorIs(t, err, stages.ErrBadCredentials)

	_, err = d.Check(context.Background(), "nobody", "nope")
	assert.ErrorIs(t, err, stages.ErrBadCredentials)
}

func TestCheckCarriesRunAsSubject(t *testing.T) {
	d := testDirectory(t)

	auth, err := d.Check(context.Background(), "deploy", "pipeline")
	require.NoError(t, err)
	require.NotNil(t, auth.RunAs)
	assert.Equal(t, "alice", auth.RunAs.Principal)
	assert.True(t, auth.RunAs.Real())
}

func TestIntrospect(t *testing.T) {
	d := testDirectory(t)

	auth, err := d.Introspect(context.Background(), "tok-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", auth.Principal)
	assert.True(t, auth.HasAuthority("ROLE_USER"))

	// A token for a principal without a directory entry still authenticates,
	// with no authorities.
	auth, err = d.Introspect(context.Background(), "tok-orphan")
	require.NoError(t, err)
	assert.Equal(t, "ghost", auth.Principal)
	assert.Empty(t, auth.Authorities)

	_, err = d.Introspect(context.Background(), "tok-bogus")
	assert.ErrorIs(t, err, stages.ErrBadCredentials)
}

func TestAuthorities(t *testing.T) {
	d := testDirectory(t)

	got, err := d.Authorities(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"ROLE_USER", "ROLE_ADMIN"}, got)

	got, err = d.Authorities(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNewDirectoryValidation(t *testing.T) {
	_, err := NewDirectory([]User{{Username: "a", Password: "x"}, {Username: "a", Password: "y"}}, nil)
	require.Error(t, err, "duplicate usernames are a construction error")

	_, err = NewDirectory([]User{{Username: "a", Password: "x", RunAs: "missing"}}, nil)
	require.Error(t, err, "run_as must resolve")

	_, err = NewDirectory([]User{
		{Username: "a", Password: "x", RunAs: "b"},
		{Username: "b", Password: "y", RunAs: "a"},
	}, nil)
	require.Error(t, err, "nested run_as is refused")

	_, err = NewDirectory(nil, map[string]string{"": "who"})
	require.Error(t, err)
}
