package guard

import (
	"time"

	"github.com/goliatone/go-webhook-guard/providers"
	"github.com/goliatone/go-webhook-guard/providers/github"
	"github.com/goliatone/go-webhook-guard/providers/shopify"
	"github.com/goliatone/go-webhook-guard/providers/slack"
	"github.com/goliatone/go-webhook-guard/providers/stripe"
)

func GitHubProvider() ProviderDefinition {
	return github.Definition()
}

func ShopifyProvider() ProviderDefinition {
	return shopify.Definition()
}

// SlackProvider checks the request timestamp against now. A nil clock uses
// time.Now.
func SlackProvider(now func() time.Time) ProviderDefinition {
	if now == nil {
		return slack.Definition()
	}
	return slack.DefinitionWithClock(now)
}

// StripeProvider checks the signed timestamp against now. A nil clock uses
// time.Now.
func StripeProvider(now func() time.Time) ProviderDefinition {
	if now == nil {
		return stripe.Definition()
	}
	return stripe.DefinitionWithClock(now)
}

func BuiltinProviders() []ProviderDefinition {
	return providers.Builtin()
}

// New builds a Service with every built-in provider registered. Built-in ids
// win over later WithProviders calls; pass WithRegistry to start from a
// custom registry instead.
func New(cfg Config, opts ...Option) (*Service, error) {
	all := make([]Option, 0, len(opts)+1)
	all = append(all, WithProviders(BuiltinProviders()...))
	all = append(all, opts...)
	return NewService(cfg, all...)
}
