package providers

import (
	"github.com/goliatone/go-webhook-guard/core"
	"github.com/goliatone/go-webhook-guard/providers/github"
	"github.com/goliatone/go-webhook-guard/providers/shopify"
	"github.com/goliatone/go-webhook-guard/providers/slack"
	"github.com/goliatone/go-webhook-guard/providers/stripe"
)

// Builtin returns the definitions for every provider shipped with the
// module, ordered by id.
func Builtin() []core.ProviderDefinition {
	return []core.ProviderDefinition{
		github.Definition(),
		shopify.Definition(),
		slack.Definition(),
		stripe.Definition(),
	}
}

// NewRegistry returns a registry with the built-in providers registered.
func NewRegistry() *core.ProviderRegistry {
	return core.NewProviderRegistry(Builtin()...)
}
