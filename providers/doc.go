// Package providers bundles the built-in webhook provider definitions.
//
// Each subpackage owns one provider's signature scheme and payload parser
// and exposes a Definition for core.ProviderRegistry.
package providers
