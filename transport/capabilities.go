package transport

// Capabilities describes what a transport guarantees to the subscriptions it
// feeds.
type Capabilities struct {
	// SupportsOrdering indicates events reach a subscription in publish order.
	SupportsOrdering bool

	// SupportsFanout indicates every active subscription on a topic receives
	// every event. When false, consumers on a topic compete for events.
	SupportsFanout bool

	// SupportsAck indicates the transport supports explicit acknowledgment.
	SupportsAck bool

	// SupportsNack indicates a nacked event is redelivered.
	SupportsNack bool

	// SupportsTracing indicates the transport propagates tracing headers natively.
	SupportsTracing bool

	// Persistent indicates events survive a process restart.
	Persistent bool

	// MaxMessageSize is the maximum event size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the transport.
	Name string
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Fits reports whether payloadSize is within the transport limit.
func (c Capabilities) Fits(payloadSize int) bool {
	return c.MaxMessageSize == 0 || int64(payloadSize) <= c.MaxMessageSize
}

// Predefined capability sets for the built-in transports.
var (
	// ChannelCapabilities for the in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsFanout:   true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// KafkaCapabilities for Apache Kafka.
	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsAck:      true,
		Persistent:       true,
		MaxMessageSize:   1048576,
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP with durable pub/sub queues.
	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsFanout:   true,
		SupportsTracing:  true,
		SupportsAck:      true,
		SupportsNack:     true,
		Persistent:       true,
	}

	// NATSCapabilities for NATS Core.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsFanout:  true,
		SupportsTracing: true,
		MaxMessageSize:  1048576,
	}

	// AWSCapabilities for SNS fan-out into SQS queues.
	AWSCapabilities = Capabilities{
		Name:             "aws",
		SupportsOrdering: true,
		SupportsFanout:   true,
		SupportsTracing:  true,
		SupportsAck:      true,
		SupportsNack:     true,
		Persistent:       true,
		MaxMessageSize:   262144,
	}

	// HTTPCapabilities for webhook-style HTTP delivery.
	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}
)

// GetCapabilities returns the capabilities registered for a transport name, or
// a zero Capabilities carrying only the name when it is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
