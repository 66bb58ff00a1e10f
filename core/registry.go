package core

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// ProviderDefinition binds a provider id to its verification scheme. Header
// names are fixed by the provider and not configurable.
type ProviderDefinition struct {
	ID               string
	Validator        SignatureValidator
	Parser           PayloadParser
	SignatureHeader  string
	TimestampHeader  string
	ExternalIDHeader string
	EventHeader      string
}

// ComposeSignature builds the signature value handed to the validator. When
// the provider signs a separate timestamp header the two are joined as
// "<timestamp>:<signature>".
func (d ProviderDefinition) ComposeSignature(headers map[string]string) string {
	signature := HeaderValue(headers, d.SignatureHeader)
	if strings.TrimSpace(d.TimestampHeader) == "" {
		return signature
	}
	timestamp := HeaderValue(headers, d.TimestampHeader)
	if timestamp == "" && signature == "" {
		return ""
	}
	return timestamp + ":" + signature
}

type ResolvedProvider struct {
	Definition ProviderDefinition
	Secret     string
	Tolerance  time.Duration
}

type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]ProviderDefinition
}

func NewProviderRegistry(definitions ...ProviderDefinition) *ProviderRegistry {
	registry := &ProviderRegistry{providers: make(map[string]ProviderDefinition)}
	for _, definition := range definitions {
		_ = registry.Register(definition)
	}
	return registry
}

func (r *ProviderRegistry) Register(definition ProviderDefinition) error {
	id := normalizeProvider(definition.ID)
	if id == "" {
		return fmt.Errorf("core: provider id is required")
	}
	if definition.Validator == nil {
		return fmt.Errorf("core: provider %s validator is required", id)
	}
	if definition.Parser == nil {
		return fmt.Errorf("core: provider %s parser is required", id)
	}
	if strings.TrimSpace(definition.SignatureHeader) == "" {
		return fmt.Errorf("core: provider %s signature header is required", id)
	}
	definition.ID = id
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.providers == nil {
		r.providers = make(map[string]ProviderDefinition)
	}
	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("core: provider already registered: %s", id)
	}
	r.providers[id] = definition
	return nil
}

func (r *ProviderRegistry) Get(provider string) (ProviderDefinition, bool) {
	id := normalizeProvider(provider)
	if id == "" || r == nil {
		return ProviderDefinition{}, false
	}
	r.mu.RLock()
	definition, ok := r.providers[id]
	r.mu.RUnlock()
	return definition, ok
}

func (r *ProviderRegistry) List() []ProviderDefinition {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.providers))
	for id := range r.providers {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	definitions := make([]ProviderDefinition, 0, len(keys))
	for _, id := range keys {
		definitions = append(definitions, r.providers[id])
	}
	return definitions
}

// ConfigSecretResolver reads provider secrets from Config.
type ConfigSecretResolver struct {
	Config Config
}

func (r ConfigSecretResolver) ResolveSecret(_ context.Context, provider string) (string, error) {
	cfg, ok := r.Config.Provider(provider)
	if !ok {
		return "", nil
	}
	return strings.TrimSpace(cfg.Secret), nil
}

// resolveProvider returns ServiceUnsupported for unknown providers and
// SecretNotConfigured when the resolved secret is empty.
func resolveProvider(
	ctx context.Context,
	registry Registry,
	secrets SecretResolver,
	cfg Config,
	provider string,
) (ResolvedProvider, error) {
	if registry == nil {
		return ResolvedProvider{}, NewServiceUnsupportedError(provider)
	}
	definition, ok := registry.Get(provider)
	if !ok {
		return ResolvedProvider{}, NewServiceUnsupportedError(provider)
	}
	if secrets == nil {
		secrets = ConfigSecretResolver{Config: cfg}
	}
	secret, err := secrets.ResolveSecret(ctx, definition.ID)
	if err != nil {
		return ResolvedProvider{}, goerrors.Wrap(err, goerrors.CategoryInternal,
			fmt.Sprintf("Webhook secret not configured for service: %s", definition.ID)).
			WithCode(http.StatusInternalServerError).
			WithTextCode(WebhookErrorSecretNotConfigured)
	}
	if strings.TrimSpace(secret) == "" {
		return ResolvedProvider{}, NewSecretNotConfiguredError(definition.ID)
	}
	providerCfg, _ := cfg.Provider(definition.ID)
	return ResolvedProvider{
		Definition: definition,
		Secret:     secret,
		Tolerance:  providerCfg.Tolerance(),
	}, nil
}

// HeaderValue looks key up case-insensitively.
func HeaderValue(headers map[string]string, key string) string {
	if len(headers) == 0 || strings.TrimSpace(key) == "" {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
