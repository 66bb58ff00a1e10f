package command

import (
	"strings"

	"github.com/goliatone/go-webhook-guard/core"
)

const (
	TypeReceiveWebhook  = "webhooks.command.receive"
	TypeValidateWebhook = "webhooks.command.validate"
	TypeClearCooldown   = "webhooks.command.cooldown.clear"
	TypePruneLogs       = "webhooks.command.logs.prune"
	TypeRunRetryAttempt = "webhooks.command.retry.run"
)

// ReceiveWebhookMessage carries a raw delivery through the full inbound
// pipeline, including the configured retry mode.
type ReceiveWebhookMessage struct {
	Delivery core.InboundDelivery
}

func (ReceiveWebhookMessage) Type() string { return TypeReceiveWebhook }

func (m ReceiveWebhookMessage) Validate() error {
	if strings.TrimSpace(m.Delivery.Provider) == "" {
		return commandValidationError("provider", "provider is required")
	}
	return nil
}

// ValidateWebhookMessage runs a single ValidateAndLog attempt.
type ValidateWebhookMessage struct {
	Request core.ValidationRequest
}

func (ValidateWebhookMessage) Type() string { return TypeValidateWebhook }

func (m ValidateWebhookMessage) Validate() error {
	if strings.TrimSpace(m.Request.Provider) == "" {
		return commandValidationError("provider", "provider is required")
	}
	if m.Request.Attempt < 0 {
		return commandValidationError("attempt", "attempt must be >= 0")
	}
	return nil
}

type ClearCooldownMessage struct {
	Provider string
	Event    string
}

func (ClearCooldownMessage) Type() string { return TypeClearCooldown }

func (m ClearCooldownMessage) Validate() error {
	if strings.TrimSpace(m.Provider) == "" {
		return commandValidationError("provider", "provider is required")
	}
	if strings.TrimSpace(m.Event) == "" {
		return commandValidationError("event", "event is required")
	}
	return nil
}

type PruneLogsMessage struct {
	Policy core.RetentionPolicy
}

func (PruneLogsMessage) Type() string { return TypePruneLogs }

func (m PruneLogsMessage) Validate() error {
	if m.Policy.TTL < 0 {
		return commandValidationError("ttl", "ttl must be >= 0")
	}
	if m.Policy.RowCap < 0 {
		return commandValidationError("row_cap", "row cap must be >= 0")
	}
	if m.Policy.TTL == 0 && m.Policy.RowCap == 0 {
		return commandInvalidInputError("command: retention policy needs a ttl or a row cap")
	}
	return nil
}

// RunRetryAttemptMessage executes one deferred attempt handed back by a
// scheduler.
type RunRetryAttemptMessage struct {
	Task core.RetryTask
}

func (RunRetryAttemptMessage) Type() string { return TypeRunRetryAttempt }

func (m RunRetryAttemptMessage) Validate() error {
	if strings.TrimSpace(m.Task.Provider) == "" {
		return commandValidationError("provider", "provider is required")
	}
	if strings.TrimSpace(m.Task.ChainID) == "" {
		return commandValidationError("chain_id", "chain id is required")
	}
	if m.Task.Attempt <= 0 {
		return commandValidationError("attempt", "scheduled attempts start at 1")
	}
	return nil
}
