package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-io/gatehouse/pkg/domain"
	"github.com/gatehouse-io/gatehouse/pkg/pattern"
)

type recordingEvents struct {
	rejected []domain.RejectionReason
	selected []string
	stages   []string
	outcomes []domain.OutcomeKind
}

func (r *recordingEvents) RequestRejected(_ *domain.Request, reason domain.RejectionReason) {
	r.rejected = append(r.rejected, reason)
}

func (r *recordingEvents) ChainSelected(_ *domain.Request, chain string, _ bool) {
	r.selected = append(r.selected, chain)
}

func (r *recordingEvents) StageEntered(_ *domain.Request, _, stage string) {
	r.stages = append(r.stages, stage)
}

func (r *recordingEvents) Outcome(_ *domain.Request, _ string, out domain.Outcome, _ time.Duration) {
	r.outcomes = append(r.outcomes, out.Kind)
}

func testRequest(path string) *domain.Request {
	return &domain.Request{ID: "req-1", Method: "GET", RawPath: path, Path: path}
}

func TestExecuteRunsStagesInDeclarationOrder(t *testing.T) {
	events := &recordingEvents{}
	exec := NewExecutor(ExecutorConfig{Events: events})

	chain := &Chain{
		Name:    "ordered",
		Pattern: pattern.MustCompile("/**", pattern.KindAnt),
		Stages: stagesNamed(
			StageSessionContext, StageAnonymous, StageBoundary, StageAuthorize,
		),
	}

	out, err := exec.Execute(context.Background(), chain, testRequest("/x"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAllow, out.Kind)
	assert.Equal(t, []string{
		StageSessionContext, StageAnonymous, StageBoundary, StageAuthorize,
	}, events.stages)
	assert.Equal(t, []domain.OutcomeKind{domain.OutcomeAllow}, events.outcomes)
}

func TestExecuteShortCircuitSkipsLaterStages(t *testing.T) {
	events := &recordingEvents{}
	exec := NewExecutor(ExecutorConfig{Events: events})

	deny := &fakeStage{name: StageConcurrency, fn: func(_ context.Context, _ *domain.Request, _ *domain.SecurityContext, _ Continuation) (domain.Outcome, error) {
		return domain.Denied("session expired"), nil
	}}
	never := &fakeStage{name: StageAuthorize, fn: func(_ context.Context, _ *domain.Request, _ *domain.SecurityContext, _ Continuation) (domain.Outcome, error) {
		t.Fatal("stage after a short-circuit must not run")
		return domain.Outcome{}, nil
	}}

	chain := &Chain{
		Name:    "short",
		Pattern: pattern.MustCompile("/**", pattern.KindAnt),
		Stages:  []Stage{deny, never},
	}

	out, err := exec.Execute(context.Background(), chain, testRequest("/x"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDenied, out.Kind)
	assert.Equal(t, []string{StageConcurrency}, events.stages)
}

func TestExecuteBypassRunsNothing(t *testing.T) {
	events := &recordingEvents{}
	exec := NewExecutor(ExecutorConfig{Events: events})

	chain := &Chain{
		Name:    "bypass",
		Pattern: pattern.MustCompile("/static/**", pattern.KindAnt),
		Bypass:  true,
	}

	out, err := exec.Execute(context.Background(), chain, testRequest("/static/app.css"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAllow, out.Kind)
	assert.Empty(t, events.stages)
}

func TestExecuteFatalStageError(t *testing.T) {
	events := &recordingEvents{}
	exec := NewExecutor(ExecutorConfig{Events: events})

	boom := errors.New("store unavailable")
	chain := &Chain{
		Name:    "failing",
		Pattern: pattern.MustCompile("/**", pattern.KindAnt),
		Stages: []Stage{&fakeStage{name: StageSessionContext, fn: func(_ context.Context, _ *domain.Request, _ *domain.SecurityContext, _ Continuation) (domain.Outcome, error) {
			return domain.Outcome{}, boom
		}}},
	}

	_, err := exec.Execute(context.Background(), chain, testRequest("/x"))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []domain.OutcomeKind{domain.OutcomeError}, events.outcomes)
}

func TestExecuteCancelledContextSkipsStages(t *testing.T) {
	events := &recordingEvents{}
	exec := NewExecutor(ExecutorConfig{Events: events})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chain := &Chain{
		Name:    "cancelled",
		Pattern: pattern.MustCompile("/**", pattern.KindAnt),
		Stages:  stagesNamed(StageAnonymous, StageAuthorize),
	}

	_, err := exec.Execute(ctx, chain, testRequest("/x"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, events.stages)
}

// A stage holding the continuation may re-invoke the remainder under a
// substituted security context; the inner run must observe the substitute.
func TestContinuationReinvocation(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{})

	var seen []string
	substitute := domain.NewSecurityContextWith(domain.NewAuthentication("system"))

	nesting := &fakeStage{name: StageRunAs, fn: func(ctx context.Context, req *domain.Request, sec *domain.SecurityContext, next Continuation) (domain.Outcome, error) {
		return next.Proceed(ctx, req, substitute)
	}}
	probe := &fakeStage{name: StageAuthorize, fn: func(_ context.Context, _ *domain.Request, sec *domain.SecurityContext, _ Continuation) (domain.Outcome, error) {
		seen = append(seen, sec.Authentication().Principal)
		return domain.Allow(), nil
	}}

	chain := &Chain{
		Name:    "nested",
		Pattern: pattern.MustCompile("/**", pattern.KindAnt),
		Stages:  []Stage{nesting, probe},
	}

	out, err := exec.Execute(context.Background(), chain, testRequest("/x"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAllow, out.Kind)
	assert.Equal(t, []string{"system"}, seen)
}
