package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	WebhookErrorMissingHeader       = "WEBHOOK_MISSING_HEADER"
	WebhookErrorEmptyPayload        = "WEBHOOK_EMPTY_PAYLOAD"
	WebhookErrorServiceUnsupported  = "WEBHOOK_SERVICE_UNSUPPORTED"
	WebhookErrorSecretNotConfigured = "WEBHOOK_SECRET_NOT_CONFIGURED"
	WebhookErrorMissingSignature    = "WEBHOOK_MISSING_SIGNATURE"
	WebhookErrorMalformedSignature  = "WEBHOOK_MALFORMED_SIGNATURE"
	WebhookErrorExpired             = "WEBHOOK_SIGNATURE_EXPIRED"
	WebhookErrorSignatureMismatch   = "WEBHOOK_SIGNATURE_MISMATCH"
	WebhookErrorNoAttemptRecorded   = "WEBHOOK_NO_ATTEMPT_RECORDED"
	WebhookErrorStorage             = "WEBHOOK_STORAGE_FAILURE"
	WebhookErrorLogNotFound         = "WEBHOOK_LOG_NOT_FOUND"
	WebhookErrorBadInput            = "WEBHOOK_BAD_INPUT"
	WebhookErrorInternal            = "WEBHOOK_INTERNAL_ERROR"
)

var (
	ErrDuplicateExternalID = errors.New("core: external id already recorded")
	ErrDuplicateAttempt    = errors.New("core: retry attempt already recorded")
	ErrLogEntryNotFound    = errors.New("core: webhook log entry not found")
)

func NewMissingHeaderError(header string) error {
	err := newWebhookError(
		fmt.Sprintf("Missing required header: %s", strings.TrimSpace(header)),
		goerrors.CategoryBadInput,
		http.StatusBadRequest,
		WebhookErrorMissingHeader,
	)
	err.WithMetadata(map[string]any{"header": strings.TrimSpace(header)})
	return err
}

func NewEmptyPayloadError() error {
	return newWebhookError("Empty payload", goerrors.CategoryBadInput, http.StatusBadRequest, WebhookErrorEmptyPayload)
}

func NewServiceUnsupportedError(provider string) error {
	err := newWebhookError(
		fmt.Sprintf("Unsupported webhook service: %s", strings.TrimSpace(provider)),
		goerrors.CategoryBadInput,
		http.StatusBadRequest,
		WebhookErrorServiceUnsupported,
	)
	err.WithMetadata(map[string]any{"provider": strings.TrimSpace(provider)})
	return err
}

func NewSecretNotConfiguredError(provider string) error {
	err := newWebhookError(
		fmt.Sprintf("Webhook secret not configured for service: %s", strings.TrimSpace(provider)),
		goerrors.CategoryInternal,
		http.StatusInternalServerError,
		WebhookErrorSecretNotConfigured,
	)
	err.WithMetadata(map[string]any{"provider": strings.TrimSpace(provider)})
	return err
}

func NewMissingSignatureError(message string) error {
	if strings.TrimSpace(message) == "" {
		message = "Missing signature"
	}
	return newWebhookError(message, goerrors.CategoryBadInput, http.StatusBadRequest, WebhookErrorMissingSignature)
}

func NewMalformedSignatureError(message string) error {
	if strings.TrimSpace(message) == "" {
		message = "Invalid signature format"
	}
	return newWebhookError(message, goerrors.CategoryBadInput, http.StatusBadRequest, WebhookErrorMalformedSignature)
}

func NewExpiredError(message string) error {
	if strings.TrimSpace(message) == "" {
		message = "Signature timestamp outside tolerance window"
	}
	return newWebhookError(message, goerrors.CategoryValidation, http.StatusBadRequest, WebhookErrorExpired)
}

func NewSignatureMismatchError(message string) error {
	if strings.TrimSpace(message) == "" {
		message = "Signature verification failed"
	}
	return newWebhookError(message, goerrors.CategoryAuthz, http.StatusForbidden, WebhookErrorSignatureMismatch)
}

func NewNoAttemptRecordedError(cause error) error {
	message := "No validation attempt was recorded"
	if cause == nil {
		return newWebhookError(message, goerrors.CategoryInternal, http.StatusInternalServerError, WebhookErrorNoAttemptRecorded)
	}
	return goerrors.Wrap(cause, goerrors.CategoryInternal, message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(WebhookErrorNoAttemptRecorded)
}

func NewStorageError(cause error, message string) error {
	if strings.TrimSpace(message) == "" {
		message = "Webhook log storage failed"
	}
	if cause == nil {
		return newWebhookError(message, goerrors.CategoryInternal, http.StatusInternalServerError, WebhookErrorStorage)
	}
	return goerrors.Wrap(cause, goerrors.CategoryInternal, message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(WebhookErrorStorage)
}

// RetriesExhaustedError is returned once every attempt of a retry chain
// failed. It unwraps to the last failure so callers resolve the same kind.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	if e == nil {
		return ""
	}
	if e.Last == nil {
		return fmt.Sprintf("webhook validation failed after %d attempts", e.Attempts)
	}
	return e.Last.Error()
}

func (e *RetriesExhaustedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Last
}

// ErrorKind returns the WEBHOOK_* text code carried by err, or an empty
// string when err is nil.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && strings.TrimSpace(rich.TextCode) != "" {
		return rich.TextCode
	}
	if errors.Is(err, ErrDuplicateExternalID) || errors.Is(err, ErrDuplicateAttempt) {
		return WebhookErrorStorage
	}
	return WebhookErrorInternal
}

func IsKind(err error, kind string) bool {
	return err != nil && ErrorKind(err) == kind
}

// HTTPStatus maps err to the status a transport should answer with.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return ensureWebhookErrorEnvelope(rich).Code
	}
	return http.StatusInternalServerError
}

// ErrorMessage returns the user facing message of err without wrapping
// context added by intermediate layers.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && strings.TrimSpace(rich.Message) != "" {
		return rich.Message
	}
	return err.Error()
}

// IsLoggedFailure reports whether err is a verification outcome that the
// orchestrator records as a failed log entry.
func IsLoggedFailure(err error) bool {
	switch ErrorKind(err) {
	case WebhookErrorMissingSignature,
		WebhookErrorMalformedSignature,
		WebhookErrorExpired,
		WebhookErrorSignatureMismatch:
		return true
	default:
		return false
	}
}

// IsConfigurationError reports misconfiguration that terminates a chain
// without a log entry.
func IsConfigurationError(err error) bool {
	switch ErrorKind(err) {
	case WebhookErrorServiceUnsupported, WebhookErrorSecretNotConfigured:
		return true
	default:
		return false
	}
}

func newWebhookError(message string, category goerrors.Category, code int, textCode string) *goerrors.Error {
	return goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
}

func webhookErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureWebhookErrorEnvelope(richErr)
	}
	if errors.Is(err, ErrDuplicateExternalID) || errors.Is(err, ErrDuplicateAttempt) || errors.Is(err, ErrLogEntryNotFound) {
		return ensureWebhookErrorEnvelope(goerrors.Wrap(err, goerrors.CategoryInternal, "Webhook log storage failed").
			WithTextCode(WebhookErrorStorage))
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureWebhookErrorEnvelope(mapped)
}

func ensureWebhookErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = webhookHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultWebhookTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultWebhookTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return WebhookErrorBadInput
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return WebhookErrorSignatureMismatch
	default:
		return WebhookErrorInternal
	}
}

func webhookHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
