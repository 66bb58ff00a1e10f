package sqlstore

import "github.com/goliatone/go-webhook-guard/core"

var (
	_ core.WebhookLogStore    = (*WebhookLogStore)(nil)
	_ core.WebhookLogPruner   = (*WebhookLogStore)(nil)
	_ core.WebhookLogStore    = (*CachedWebhookLogStore)(nil)
	_ core.WebhookLogPruner   = (*CachedWebhookLogStore)(nil)
	_ core.NotificationLedger = (*NotificationDispatchStore)(nil)
	_ core.StoreProvider      = (*RepositoryFactory)(nil)
)
