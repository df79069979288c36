// Package flowrpc is a typed remote procedure call framework over HTTP and
// WebSocket. A server registers queries, mutations and subscriptions on a
// Router, and a Service serves that router as JSON envelopes. A Client runs
// operations through a chain of links ending in an HTTP, WebSocket or
// in-process terminal link.
//
// A minimal server fills Config, builds a Router, creates a Service and calls
// Start; a minimal client calls NewClient with the endpoint URL and uses
// Query, Mutation, SubscriptionOnce or Subscribe.
//
// # Procedures
//
// Each procedure has an optional input parser (a func, a Parser or a
// Validator) and a resolver. Router middleware runs before the resolver and
// can short-circuit the call with an error. Subscription resolvers return a
// *Subscription whose outputs are streamed over WebSocket, or returned as one
// batch over HTTP.
//
// # Errors
//
// Everything a resolver returns is classified into an *Error with a symbolic
// Code, sent as an error envelope and surfaced to the caller as a
// *ClientError. TIMEOUT on an HTTP subscription is a reconnect hint.
//
// # Middleware
//
// The default server chain assigns correlation IDs, logs calls, traces them
// with OpenTelemetry, records Prometheus metrics and recovers panics. Custom
// middleware and CallHooks plug in through ServiceDependencies.
//
// # Event Bus
//
// Setting Config.EventBusTransport wires a Watermill publisher and subscriber
// (channel, kafka, rabbitmq, nats, http or aws) into the Service. Mutations
// publish with Service.Publish; subscriptions stream a topic with
// Service.SubscribeTopic.
package flowrpc
