package query

import (
	"strings"

	"github.com/goliatone/go-webhook-guard/core"
)

const (
	TypeListWebhookLogs  = "webhooks.query.logs.list"
	TypeFindWebhookLog   = "webhooks.query.logs.find"
	TypeEvaluateFailures = "webhooks.query.failures.evaluate"
)

type ListWebhookLogsMessage struct {
	Filter core.LogFilter
}

func (ListWebhookLogsMessage) Type() string { return TypeListWebhookLogs }

func (m ListWebhookLogsMessage) Validate() error {
	if m.Filter.Page < 0 {
		return queryValidationError("page", "page must be >= 0")
	}
	if m.Filter.PerPage < 0 {
		return queryValidationError("per_page", "per_page must be >= 0")
	}
	if m.Filter.Attempt != nil && *m.Filter.Attempt < 0 {
		return queryValidationError("attempt", "attempt must be >= 0")
	}
	if m.Filter.CreatedFrom != nil && m.Filter.CreatedUntil != nil && m.Filter.CreatedUntil.Before(*m.Filter.CreatedFrom) {
		return queryInvalidInputError("query: created_until must not precede created_from")
	}
	return nil
}

type FindWebhookLogMessage struct {
	Provider   string
	ExternalID string
}

func (FindWebhookLogMessage) Type() string { return TypeFindWebhookLog }

func (m FindWebhookLogMessage) Validate() error {
	if strings.TrimSpace(m.Provider) == "" {
		return queryValidationError("provider", "provider is required")
	}
	if strings.TrimSpace(m.ExternalID) == "" {
		return queryValidationError("external_id", "external id is required")
	}
	return nil
}

type EvaluateFailuresMessage struct {
	Provider string
	Event    string
}

func (EvaluateFailuresMessage) Type() string { return TypeEvaluateFailures }

func (m EvaluateFailuresMessage) Validate() error {
	if strings.TrimSpace(m.Provider) == "" {
		return queryValidationError("provider", "provider is required")
	}
	if strings.TrimSpace(m.Event) == "" {
		return queryValidationError("event", "event is required")
	}
	return nil
}
