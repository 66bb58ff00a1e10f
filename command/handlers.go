package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-webhook-guard/core"
)

type MutatingService interface {
	Receive(ctx context.Context, delivery core.InboundDelivery) (core.ReceiveResult, error)
	ValidateAndLog(ctx context.Context, req core.ValidationRequest) (core.ValidationResult, error)
	ClearCooldown(ctx context.Context, provider string, event string) error
	PruneLogs(ctx context.Context, policy core.RetentionPolicy) (int, error)
	RunScheduledAttempt(ctx context.Context, task core.RetryTask) (core.ValidationResult, error)
}

// PruneResult is stored in the result collector after a prune.
type PruneResult struct {
	Deleted int
}

type ReceiveWebhookCommand struct {
	service MutatingService
}

func NewReceiveWebhookCommand(service MutatingService) *ReceiveWebhookCommand {
	return &ReceiveWebhookCommand{service: service}
}

// Execute stores the ReceiveResult even when the attempt failed, so callers
// can still read the extracted event and external id.
func (c *ReceiveWebhookCommand) Execute(ctx context.Context, msg ReceiveWebhookMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: webhook receive service is required")
	}
	out, err := c.service.Receive(ctx, msg.Delivery)
	storeResult(ctx, out)
	return err
}

type ValidateWebhookCommand struct {
	service MutatingService
}

func NewValidateWebhookCommand(service MutatingService) *ValidateWebhookCommand {
	return &ValidateWebhookCommand{service: service}
}

func (c *ValidateWebhookCommand) Execute(ctx context.Context, msg ValidateWebhookMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: webhook validation service is required")
	}
	out, err := c.service.ValidateAndLog(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ClearCooldownCommand struct {
	service MutatingService
}

func NewClearCooldownCommand(service MutatingService) *ClearCooldownCommand {
	return &ClearCooldownCommand{service: service}
}

func (c *ClearCooldownCommand) Execute(ctx context.Context, msg ClearCooldownMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: cooldown service is required")
	}
	return c.service.ClearCooldown(ctx, msg.Provider, msg.Event)
}

type PruneLogsCommand struct {
	service MutatingService
}

func NewPruneLogsCommand(service MutatingService) *PruneLogsCommand {
	return &PruneLogsCommand{service: service}
}

func (c *PruneLogsCommand) Execute(ctx context.Context, msg PruneLogsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: log retention service is required")
	}
	deleted, err := c.service.PruneLogs(ctx, msg.Policy)
	if err != nil {
		return err
	}
	storeResult(ctx, PruneResult{Deleted: deleted})
	return nil
}

type RunRetryAttemptCommand struct {
	service MutatingService
}

func NewRunRetryAttemptCommand(service MutatingService) *RunRetryAttemptCommand {
	return &RunRetryAttemptCommand{service: service}
}

func (c *RunRetryAttemptCommand) Execute(ctx context.Context, msg RunRetryAttemptMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: retry runner is required")
	}
	out, err := c.service.RunScheduledAttempt(ctx, msg.Task)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
