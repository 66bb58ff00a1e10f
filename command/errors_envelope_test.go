package command

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-webhook-guard/core"
)

func TestClearCooldownMessage_ValidateReturnsRichError(t *testing.T) {
	err := (ClearCooldownMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.WebhookErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.WebhookErrorBadInput, rich.TextCode)
	}
}

func TestReceiveWebhookCommand_NilServiceReturnsRichError(t *testing.T) {
	var cmd *ReceiveWebhookCommand
	err := cmd.Execute(context.Background(), ReceiveWebhookMessage{})
	if err == nil {
		t.Fatalf("expected command dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
	if core.HTTPStatus(err) != 500 {
		t.Fatalf("expected 500 status, got %d", core.HTTPStatus(err))
	}
}
