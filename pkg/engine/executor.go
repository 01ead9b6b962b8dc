package engine

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gatehouse-io/gatehouse/pkg/domain"
	"github.com/gatehouse-io/gatehouse/pkg/telemetry"
)

// Executor runs a chain's stages in declaration order over a fresh security
// context, honoring short-circuits, boundary translation and cancellation.
// One Executor serves all requests; per-request state lives in the request,
// the continuation and the security context.
type Executor struct {
	logger *slog.Logger
	events Events
	tracer trace.Tracer
}

// ExecutorConfig holds dependencies for creating an Executor.
type ExecutorConfig struct {
	Logger *slog.Logger
	Events Events
}

// NewExecutor creates an Executor with the given configuration.
func NewExecutor(cfg ExecutorConfig) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	events := cfg.Events
	if events == nil {
		events = NopEvents{}
	}
	return &Executor{
		logger: logger,
		events: events,
		tracer: otel.Tracer("gatehouse.engine"),
	}
}

// Execute runs chain for req and returns the single terminal outcome. A
// bypass chain short-circuits immediately: no security context exists and no
// stage runs. A returned error means a fatal, untranslated stage failure;
// the caller must not commit any response body beyond a generic error.
func (e *Executor) Execute(ctx context.Context, chain *Chain, req *domain.Request) (domain.Outcome, error) {
	e.events.ChainSelected(req, chain.Name, chain.Bypass)

	// Credential-bearing attributes never reach the exporter: everything a
	// span carries passes through the redaction deny-list first.
	ctx, span := e.tracer.Start(ctx, "chain.execute", trace.WithAttributes(
		telemetry.RedactAttributes([]attribute.KeyValue{
			attribute.String("chain.name", chain.Name),
			attribute.String("http.method", req.Method),
			attribute.String("http.route", req.Path),
			attribute.String("request.id", req.ID),
			attribute.Bool("chain.bypass", chain.Bypass),
		})...,
	))
	defer span.End()

	start := time.Now()

	if chain.Bypass {
		out := domain.Allow()
		e.events.Outcome(req, chain.Name, out, time.Since(start))
		return out, nil
	}

	sec := domain.NewSecurityContext()
	head := continuation{exec: e, chain: chain, stages: chain.Stages}
	out, err := head.Proceed(ctx, req, sec)
	elapsed := time.Since(start)

	if err != nil {
		e.logger.Error("chain execution failed",
			"chain", chain.Name,
			"path", req.Path,
			"request_id", req.ID,
			"error", err,
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.events.Outcome(req, chain.Name, domain.Failed(err), elapsed)
		return domain.Outcome{}, err
	}

	span.SetAttributes(telemetry.RedactAttributes([]attribute.KeyValue{
		attribute.String("chain.outcome", string(out.Kind)),
	})...)
	e.logger.Debug("chain execution complete",
		"chain", chain.Name,
		"path", req.Path,
		"outcome", string(out.Kind),
		"elapsed", elapsed,
	)
	e.events.Outcome(req, chain.Name, out, elapsed)
	return out, nil
}

// continuation is the resumable handle for the remaining stages. It is a
// value: advancing creates a new continuation, so a stage may re-invoke the
// one it was handed, possibly under a different security context.
type continuation struct {
	exec   *Executor
	chain  *Chain
	stages []Stage
	index  int
}

// Proceed runs the next stage, or reports pass-through when the chain is
// exhausted. An aborted request skips all remaining stages.
func (c continuation) Proceed(ctx context.Context, req *domain.Request, sec *domain.SecurityContext) (domain.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return domain.Outcome{}, err
	}
	if c.index >= len(c.stages) {
		return domain.Allow(), nil
	}

	stage := c.stages[c.index]
	c.exec.events.StageEntered(req, c.chain.Name, stage.Name())

	ctx, span := c.exec.tracer.Start(ctx, "chain.stage", trace.WithAttributes(
		telemetry.RedactAttributes([]attribute.KeyValue{
			attribute.String("stage.name", stage.Name()),
			attribute.String("chain.name", c.chain.Name),
		})...,
	))
	defer span.End()

	next := continuation{exec: c.exec, chain: c.chain, stages: c.stages, index: c.index + 1}
	out, err := stage.Invoke(ctx, req, sec, next)
	if err != nil {
		span.RecordError(err)
	}
	return out, err
}
