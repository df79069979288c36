/*
Package runtime serves a procedure router over the flowrpc wire envelope.

# Architecture Overview

A Service owns an http.ServeMux with up to four endpoints:

  - POST <BasePath>: one request envelope in, one response envelope out
  - GET <BasePath>/ws: envelopes multiplexed over a WebSocket
  - GET <BasePath>/procedures: introspection, when IntrospectionEnabled
  - GET /metrics: prometheus, when MetricsEnabled

Every decoded envelope becomes a Call and runs through the dispatch chain:

	stats -> correlation_id -> log_calls -> tracer -> metrics -> recoverer -> [hooks] -> [custom] -> router

The innermost step builds the per-call context with CreateContext, decodes
the input with the configured transformer and dispatches into the router.

# Errors

Whatever a resolver or middleware returns is classified once into an
*rpcerror.Error, handed to OnError and written as an error envelope whose HTTP
status comes from the error code. Panics become INTERNAL_SERVER_ERROR.

# Subscriptions

Over HTTP a subscription answers with the outputs buffered within
SubscriptionTimeout, or TIMEOUT, which clients treat as a reconnect hint.
Over WebSocket it streams init, one data frame per output and stopped.

# Event Bus

When EventBusTransport is set the Service builds a publisher and subscriber
from the transport registry. Mutations publish with Publish or PublishProto;
subscription resolvers stream a topic with SubscribeTopic.
*/
package runtime
