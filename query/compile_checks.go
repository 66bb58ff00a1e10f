package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-webhook-guard/core"
)

var (
	_ gocmd.Querier[ListWebhookLogsMessage, core.LogPage]            = (*ListWebhookLogsQuery)(nil)
	_ gocmd.Querier[FindWebhookLogMessage, core.WebhookLogEntry]     = (*FindWebhookLogQuery)(nil)
	_ gocmd.Querier[EvaluateFailuresMessage, core.FailureEvaluation] = (*EvaluateFailuresQuery)(nil)
)
