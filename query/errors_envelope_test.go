package query

import (
	"context"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-webhook-guard/core"
)

func TestFindWebhookLogMessage_ValidateReturnsRichError(t *testing.T) {
	err := (FindWebhookLogMessage{}).Validate()
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
	if rich.Code != http.StatusBadRequest {
		t.Fatalf("expected %d code, got %d", http.StatusBadRequest, rich.Code)
	}
	validation := rich.AllValidationErrors()
	if len(validation) == 0 {
		t.Fatalf("expected validation errors in envelope")
	}
	if validation[0].Field != "provider" {
		t.Fatalf("expected provider validation field, got %q", validation[0].Field)
	}
}

func TestEvaluateFailuresQuery_NilEvaluatorReturnsRichError(t *testing.T) {
	var q *EvaluateFailuresQuery
	_, err := q.Query(context.Background(), EvaluateFailuresMessage{})
	if err == nil {
		t.Fatalf("expected dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
	if rich.TextCode != core.WebhookErrorInternal {
		t.Fatalf("expected %q text code, got %q", core.WebhookErrorInternal, rich.TextCode)
	}
	if rich.Code != http.StatusInternalServerError {
		t.Fatalf("expected %d code, got %d", http.StatusInternalServerError, rich.Code)
	}
}
