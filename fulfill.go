// Package fulfill contains the wire types and error taxonomy shared by the
// fulfillment dispatch pipeline: the run gate, the outbound dispatcher, the
// trust authenticator, and the trigger resolver.
//
// The pipeline forwards order-fulfillment obligations from a marketplace core
// to upstream adapters over HTTP. Dispatch is keyed by a logical payment
// identity so that a side-effecting fulfillment call executes at most once per
// lifecycle event, even under concurrent triggers, restarts, and retries.
package fulfill

// ServiceKindFulfillment identifies fulfillment endpoints in the outbound
// credential table.
const ServiceKindFulfillment = "fulfillment"

// DefaultAuthHeader is the header carrying the service key on inbound calls
// to an adapter's fulfillment endpoint.
const DefaultAuthHeader = "X-Service-Key"

// Capability names an upstream adapter capability used for route resolution.
type Capability string

// CapabilityFulfillment is the only capability dispatched by this module.
const CapabilityFulfillment Capability = "fulfillment"
