package inbound

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-webhook-guard/core"
	"github.com/goliatone/go-webhook-guard/webhooks"
)

const (
	ProviderParam = "provider"

	StatusOK               = "ok"
	StatusAlreadyProcessed = "already_processed"
	StatusError            = "error"
	StatusCoalesced        = "coalesced"
	StatusDebounced        = "debounced"
)

// Receiver runs a delivery through the pipeline. *core.Service implements
// it.
type Receiver interface {
	Receive(ctx context.Context, delivery core.InboundDelivery) (core.ReceiveResult, error)
}

// ProviderCatalog lists registered providers so the router can check the
// signature header up front.
type ProviderCatalog interface {
	Providers() []core.ProviderDefinition
}

// Response is the JSON body written for every webhook request.
type Response struct {
	Status         string `json:"status"`
	ID             string `json:"id,omitempty"`
	Event          string `json:"event,omitempty"`
	ExternalID     string `json:"external_id,omitempty"`
	Error          string `json:"error,omitempty"`
	Code           string `json:"code,omitempty"`
	RetryScheduled bool   `json:"retry_scheduled,omitempty"`
}

type Router struct {
	receiver  Receiver
	logger    core.Logger
	prefix    string
	maxBody   int64
	now       func() time.Time
	providers map[string]core.ProviderDefinition
	burst     webhooks.BurstController
}

type RouterOption func(*Router)

func WithLogger(logger core.Logger) RouterOption {
	return func(r *Router) {
		r.logger = glog.Ensure(logger)
	}
}

func WithProviderCatalog(catalog ProviderCatalog) RouterOption {
	return func(r *Router) {
		if catalog == nil {
			return
		}
		for _, definition := range catalog.Providers() {
			r.providers[core.NormalizeProvider(definition.ID)] = definition
		}
	}
}

// WithBurstController answers repeated deliveries inside the controller
// window without running them through the pipeline.
func WithBurstController(controller webhooks.BurstController) RouterOption {
	return func(r *Router) {
		r.burst = controller
	}
}

func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRouter(receiver Receiver, cfg core.HTTPConfig, opts ...RouterOption) (*Router, error) {
	if receiver == nil {
		return nil, inboundInternal("inbound: receiver is required", nil)
	}
	router := &Router{
		receiver:  receiver,
		logger:    glog.Nop(),
		prefix:    normalizePrefix(cfg.RoutePrefix),
		maxBody:   cfg.MaxBodyBytes,
		now:       time.Now,
		providers: map[string]core.ProviderDefinition{},
	}
	if router.maxBody <= 0 {
		router.maxBody = core.DefaultConfig().HTTP.MaxBodyBytes
	}
	if catalog, ok := receiver.(ProviderCatalog); ok {
		WithProviderCatalog(catalog)(router)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(router)
		}
	}
	return router, nil
}

// Pattern is the chi route the webhook handler is mounted on.
func (r *Router) Pattern() string {
	return r.prefix + "/{" + ProviderParam + "}"
}

// Handler returns a chi mux with request id, real ip, request logging and
// panic recovery.
func (r *Router) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(r.loggingMiddleware)
	mux.Use(middleware.Recoverer)
	r.Mount(mux)
	return mux
}

// Mount registers the webhook route on an existing chi router.
func (r *Router) Mount(mux chi.Router) {
	mux.Post(r.Pattern(), r.handleWebhook)
}

func (r *Router) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := r.now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		r.logger.Info("webhook request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", ww.Status(),
			"duration_ms", r.now().Sub(start).Milliseconds(),
			"request_id", middleware.GetReqID(req.Context()),
			"remote_addr", req.RemoteAddr,
		)
	})
}

func (r *Router) handleWebhook(w http.ResponseWriter, req *http.Request) {
	provider := core.NormalizeProvider(chi.URLParam(req, ProviderParam))

	body, err := io.ReadAll(io.LimitReader(req.Body, r.maxBody+1))
	if err != nil {
		r.respondError(w, inboundInternal("Failed to read request body", nil), false)
		return
	}
	if int64(len(body)) > r.maxBody {
		r.respondError(w, inboundPayloadTooLarge(r.maxBody), false)
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		r.respondError(w, core.NewEmptyPayloadError(), false)
		return
	}

	delivery := core.InboundDelivery{
		Provider:    provider,
		Body:        body,
		Headers:     flattenHeaders(req.Header),
		ContentType: req.Header.Get("Content-Type"),
		ReceivedAt:  r.now().UTC(),
	}
	if definition, ok := r.providers[provider]; ok {
		if core.HeaderValue(delivery.Headers, definition.SignatureHeader) == "" {
			r.respondError(w, core.NewMissingHeaderError(definition.SignatureHeader), false)
			return
		}
		if r.suppressBurst(w, req, delivery, definition) {
			return
		}
	}

	result, err := r.receiver.Receive(req.Context(), delivery)
	if err != nil {
		r.logger.Warn("webhook rejected",
			"provider", provider,
			"event", result.Event,
			"external_id", result.ExternalID,
			"code", core.ErrorKind(err),
			"retry_scheduled", result.Scheduled,
		)
		r.respondError(w, err, result.Scheduled)
		return
	}

	if result.Validation.AlreadyProcessed() {
		r.respondJSON(w, http.StatusOK, Response{
			Status:     StatusAlreadyProcessed,
			ExternalID: result.ExternalID,
		})
		return
	}
	response := Response{
		Status:     StatusOK,
		Event:      result.Event,
		ExternalID: result.ExternalID,
	}
	if result.Validation.Entry != nil {
		response.ID = result.Validation.Entry.ID
	}
	r.respondJSON(w, http.StatusOK, response)
}

func (r *Router) suppressBurst(
	w http.ResponseWriter,
	req *http.Request,
	delivery core.InboundDelivery,
	definition core.ProviderDefinition,
) bool {
	if r.burst == nil {
		return false
	}
	decision, err := r.burst.Allow(req.Context(), delivery, definition)
	if err != nil {
		r.logger.Warn("webhook burst check failed", "provider", delivery.Provider, "error", err.Error())
		return false
	}
	if decision.Allow {
		return false
	}
	r.logger.Info("webhook burst suppressed",
		"provider", delivery.Provider,
		"burst_key", decision.Key,
		"burst_mode", string(decision.Mode),
	)
	if decision.Mode == webhooks.BurstModeDebounce {
		seconds := int(decision.RetryAfter.Round(time.Second) / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		r.respondJSON(w, http.StatusTooManyRequests, Response{Status: StatusDebounced})
		return true
	}
	r.respondJSON(w, http.StatusAccepted, Response{Status: StatusCoalesced})
	return true
}

func (r *Router) respondError(w http.ResponseWriter, err error, retryScheduled bool) {
	r.respondJSON(w, core.HTTPStatus(err), Response{
		Status:         StatusError,
		Error:          core.ErrorMessage(err),
		Code:           core.ErrorKind(err),
		RetryScheduled: retryScheduled,
	})
}

func (r *Router) respondJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		r.logger.Error("failed to encode webhook response", "error", err.Error())
	}
}

// flattenHeaders keeps the first value per header under its canonical name.
func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) == 0 {
			continue
		}
		out[http.CanonicalHeaderKey(key)] = values[0]
	}
	return out
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = core.DefaultConfig().HTTP.RoutePrefix
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimRight(prefix, "/")
}

// String is used in startup logs.
func (r *Router) String() string {
	return fmt.Sprintf("POST %s (max %d bytes)", r.Pattern(), r.maxBody)
}
