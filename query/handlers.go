package query

import (
	"context"

	"github.com/goliatone/go-webhook-guard/core"
)

type WebhookLogReader interface {
	ListLogs(ctx context.Context, filter core.LogFilter) (core.LogPage, error)
	FindLogByExternalID(ctx context.Context, provider string, externalID string) (core.WebhookLogEntry, error)
}

type FailureEvaluator interface {
	EvaluateFailures(ctx context.Context, provider string, event string) (core.FailureEvaluation, error)
}

type ListWebhookLogsQuery struct {
	reader WebhookLogReader
}

func NewListWebhookLogsQuery(reader WebhookLogReader) *ListWebhookLogsQuery {
	return &ListWebhookLogsQuery{reader: reader}
}

func (q *ListWebhookLogsQuery) Query(ctx context.Context, msg ListWebhookLogsMessage) (core.LogPage, error) {
	if q == nil || q.reader == nil {
		return core.LogPage{}, queryDependencyError("query: webhook log reader is required")
	}
	return q.reader.ListLogs(ctx, msg.Filter)
}

type FindWebhookLogQuery struct {
	reader WebhookLogReader
}

func NewFindWebhookLogQuery(reader WebhookLogReader) *FindWebhookLogQuery {
	return &FindWebhookLogQuery{reader: reader}
}

func (q *FindWebhookLogQuery) Query(ctx context.Context, msg FindWebhookLogMessage) (core.WebhookLogEntry, error) {
	if q == nil || q.reader == nil {
		return core.WebhookLogEntry{}, queryDependencyError("query: webhook log reader is required")
	}
	return q.reader.FindLogByExternalID(ctx, msg.Provider, msg.ExternalID)
}

type EvaluateFailuresQuery struct {
	evaluator FailureEvaluator
}

func NewEvaluateFailuresQuery(evaluator FailureEvaluator) *EvaluateFailuresQuery {
	return &EvaluateFailuresQuery{evaluator: evaluator}
}

func (q *EvaluateFailuresQuery) Query(
	ctx context.Context,
	msg EvaluateFailuresMessage,
) (core.FailureEvaluation, error) {
	if q == nil || q.evaluator == nil {
		return core.FailureEvaluation{}, queryDependencyError("query: failure evaluator is required")
	}
	return q.evaluator.EvaluateFailures(ctx, msg.Provider, msg.Event)
}
