// Package core contains the webhook verification pipeline: provider
// registry, validation orchestrator with bounded retries, failure detector
// and notification sender, plus the contracts adapters implement. Provider
// schemes, storage engines and transports live in sibling packages and
// depend on core, never the other way around.
package core
