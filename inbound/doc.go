// Package inbound exposes the webhook pipeline over HTTP.
//
// Requests with an empty body or without the provider's signature header are
// rejected before they reach the service. Every other outcome is mapped from
// the service error envelope.
package inbound
