package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ReceiveWebhookMessage]  = (*ReceiveWebhookCommand)(nil)
	_ gocmd.Commander[ValidateWebhookMessage] = (*ValidateWebhookCommand)(nil)
	_ gocmd.Commander[ClearCooldownMessage]   = (*ClearCooldownCommand)(nil)
	_ gocmd.Commander[PruneLogsMessage]       = (*PruneLogsCommand)(nil)
	_ gocmd.Commander[RunRetryAttemptMessage] = (*RunRetryAttemptCommand)(nil)
)
