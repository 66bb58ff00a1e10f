// Package webhooks holds the building blocks shared by provider packages:
// HMAC signing and constant-time comparison, timestamp tolerance checks,
// payload field readers, an in-process retry scheduler, and a burst
// controller for redelivery storms.
//
// Provider packages compose these into core.SignatureValidator and
// core.PayloadParser implementations; the orchestrator never branches on
// provider identity.
package webhooks
