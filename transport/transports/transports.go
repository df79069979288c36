// Package transports imports every built-in event bus transport so that they
// register with the default registry.
package transports

import (
	_ "github.com/drblury/flowrpc/transport/aws"
	_ "github.com/drblury/flowrpc/transport/channel"
	_ "github.com/drblury/flowrpc/transport/http"
	_ "github.com/drblury/flowrpc/transport/kafka"
	_ "github.com/drblury/flowrpc/transport/nats"
	_ "github.com/drblury/flowrpc/transport/rabbitmq"
)
