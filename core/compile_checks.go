package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ Registry            = (*ProviderRegistry)(nil)
	_ SecretResolver      = ConfigSecretResolver{}
	_ WebhookLogStore     = (*MemoryWebhookLogStore)(nil)
	_ WebhookLogPruner    = (*MemoryWebhookLogStore)(nil)
	_ CooldownStore       = (*MemoryCooldownStore)(nil)
	_ Notifier            = (*ChannelNotifier)(nil)
	_ NotificationChannel = LogChannel{}
	_ NotificationLedger  = (*MemoryNotificationLedger)(nil)
	_ RetryRunner         = (*Service)(nil)
	_ RetryRunner         = (*ValidationOrchestrator)(nil)
	_ RawConfigLoader     = (*YAMLConfigLoader)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
