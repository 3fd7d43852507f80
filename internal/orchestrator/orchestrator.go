// Package orchestrator sequences one end-user query through the full
// pipeline: authenticate, enforce quota, authorize, record usage,
// sanitize, retrieve context, generate an answer and log the exchange.
// It owns the order of those steps and the mapping of internal
// failures onto the public error taxonomy.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apiv1 "github.com/answerdhq/answerd/pkg/api/v1"

	"github.com/answerdhq/answerd/internal/conversation"
	"github.com/answerdhq/answerd/internal/llm"
	"github.com/answerdhq/answerd/internal/quota"
	"github.com/answerdhq/answerd/internal/retrieval"
	"github.com/answerdhq/answerd/internal/sanitize"
	"github.com/answerdhq/answerd/internal/session"
)

var tracer = otel.Tracer("answerd.orchestrator")

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

// Orchestrator wires the pipeline components together.
type Orchestrator struct {
	sessions  *session.Registry
	ledger    *quota.Ledger
	retriever *retrieval.Engine
	generator llm.Generator
	log       conversation.Log
	logger    *zap.Logger
	metrics   *Metrics
}

// New creates an Orchestrator.
func New(
	sessions *session.Registry,
	ledger *quota.Ledger,
	retriever *retrieval.Engine,
	generator llm.Generator,
	log conversation.Log,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		sessions:  sessions,
		ledger:    ledger,
		retriever: retriever,
		generator: generator,
		log:       log,
		logger:    logger,
		metrics:   DefaultMetrics(),
	}
}

// limitsFor converts a project's configured ceilings to quota limits.
func limitsFor(g *session.Grant) quota.Limits {
	return quota.Limits{
		PerMinute:  g.Project.Limits.RequestsPerMinute,
		PerDay:     g.Project.Limits.RequestsPerDay,
		PerSession: g.Project.Limits.RequestsPerSession,
	}
}

// HandleMessage runs one query through the pipeline.
//
// Order matters. The three admission gates (authentication, quota,
// authorization) run before any expensive work. Once the request
// passes admission, usage is recorded immediately: sanitization,
// retrieval or generation failures afterwards still count against
// quota, so a failing backend cannot be farmed for free retries.
func (o *Orchestrator) HandleMessage(ctx context.Context, req apiv1.MessageRequest) (*apiv1.MessageResponse, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.HandleMessage")
	defer span.End()

	span.SetAttributes(attribute.String("assistant_id", req.AssistantID))
	start := timeNow()

	if req.AssistantID == "" {
		o.metrics.outcome("validation_failed")
		return nil, fmt.Errorf("%w: assistant ID is required", apiv1.ErrValidation)
	}

	grant, err := o.sessions.Validate(ctx, req.SessionToken)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.outcome("storage_error")
		return nil, fmt.Errorf("%w: %v", apiv1.ErrStorage, err)
	}
	if grant == nil {
		o.metrics.outcome("auth_failed")
		return nil, apiv1.ErrAuthenticationFailed
	}

	span.SetAttributes(
		attribute.String("project_id", grant.Project.ID),
		attribute.String("session_id", grant.Session.ID),
	)

	identity := grant.Session.QuotaIdentity()
	status, err := o.ledger.Check(ctx, identity, limitsFor(grant))
	if err != nil {
		span.RecordError(err)
		o.metrics.outcome("storage_error")
		return nil, fmt.Errorf("%w: %v", apiv1.ErrStorage, err)
	}
	if !status.Allowed {
		o.metrics.outcome("quota_exceeded")
		return nil, QuotaError(status)
	}

	if err := o.sessions.Authorize(grant, req.AssistantID); err != nil {
		o.metrics.outcome("authz_denied")
		return nil, fmt.Errorf("%w: %v", apiv1.ErrAuthorizationDenied, err)
	}

	// Charge the request now, whatever happens next. Admit re-checks
	// the limits atomically with the charge, so two concurrent
	// requests cannot both take the last slot the earlier Check saw.
	status, err = o.ledger.Admit(ctx, identity, limitsFor(grant))
	if err != nil {
		span.RecordError(err)
		o.metrics.outcome("storage_error")
		return nil, fmt.Errorf("%w: %v", apiv1.ErrStorage, err)
	}
	if !status.Allowed {
		o.metrics.outcome("quota_exceeded")
		return nil, QuotaError(status)
	}

	message, err := sanitize.Message(req.Message)
	if err != nil {
		o.metrics.outcome("validation_failed")
		return nil, fmt.Errorf("%w: %v", apiv1.ErrValidation, err)
	}

	result, err := o.retriever.Retrieve(ctx, req.AssistantID, message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.outcome("retrieval_unavailable")
		return nil, fmt.Errorf("%w: %v", apiv1.ErrRetrievalUnavailable, err)
	}

	prompt := buildPrompt(grant.Project.Instructions, message, result.Chunks)
	answer, err := o.generator.Generate(ctx, prompt)
	if err != nil {
		// The real cause stays in logs and traces; the client sees
		// only the generic failure.
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Error("generation failed",
			zap.String("project_id", grant.Project.ID),
			zap.String("assistant_id", req.AssistantID),
			zap.String("trace_id", trace.SpanFromContext(ctx).SpanContext().TraceID().String()),
			zap.Error(err),
		)
		o.metrics.outcome("generation_failed")
		return nil, apiv1.ErrRetrievalFailed
	}

	conversationID := o.logExchange(ctx, grant, req.AssistantID, message, answer, result.UsedContext)

	sources := make([]apiv1.Source, len(result.Sources))
	for i, s := range result.Sources {
		sources[i] = apiv1.Source{
			DocumentID:     s.DocumentID,
			ChunkIndex:     s.ChunkIndex,
			Similarity:     s.Similarity,
			ContentPreview: s.ContentPreview,
		}
	}

	elapsed := timeNow().Sub(start)
	o.metrics.outcome("answered")
	o.metrics.duration.Observe(elapsed.Seconds())

	span.SetAttributes(
		attribute.Bool("context_used", result.UsedContext),
		attribute.Int("sources", len(sources)),
	)
	span.SetStatus(codes.Ok, "success")

	return &apiv1.MessageResponse{
		Message:          answer,
		ConversationID:   conversationID,
		Sources:          sources,
		ContextUsed:      result.UsedContext,
		ProcessingTimeMS: elapsed.Milliseconds(),
	}, nil
}

// logExchange appends the user question and assistant answer to the
// conversation log. Logging is best effort: a log failure never fails
// a request that already produced an answer.
func (o *Orchestrator) logExchange(ctx context.Context, grant *session.Grant, assistantID, question, answer string, usedContext bool) string {
	c, err := o.log.Ensure(ctx, grant.Session.ID, grant.Project.ID, assistantID)
	if err != nil {
		o.logger.Warn("conversation lookup failed", zap.Error(err))
		return ""
	}
	if err := o.log.Append(ctx, &conversation.Message{
		ConversationID: c.ID,
		Role:           conversation.RoleUser,
		Content:        question,
	}); err != nil {
		o.logger.Warn("logging user message failed", zap.Error(err))
	}
	if err := o.log.Append(ctx, &conversation.Message{
		ConversationID: c.ID,
		Role:           conversation.RoleAssistant,
		Content:        answer,
		ContextUsed:    usedContext,
	}); err != nil {
		o.logger.Warn("logging assistant message failed", zap.Error(err))
	}
	return c.ID
}

// QuotaError converts a denied quota status to the public error. The
// payload reports usage in every limited window, not just the
// exhausted ones, so clients can see how much day and session headroom
// remains while backing off a minute limit.
func QuotaError(status *quota.Status) error {
	if status.Revoked {
		// Revoked identities present as plain quota exhaustion with no
		// window detail.
		return &apiv1.QuotaExceededError{}
	}
	e := &apiv1.QuotaExceededError{}
	for _, w := range status.Usage {
		e.Windows = append(e.Windows, apiv1.WindowUsage{
			Window:  w.Window,
			Current: w.Current,
			Limit:   w.Limit,
		})
	}
	return e
}

// IsQuotaExceeded reports whether err is a quota denial and returns
// the typed error when it is.
func IsQuotaExceeded(err error) (*apiv1.QuotaExceededError, bool) {
	var qe *apiv1.QuotaExceededError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}
