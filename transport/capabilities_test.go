package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilities_SupportsReliableDelivery(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		want bool
	}{
		{"ack and nack", Capabilities{SupportsAck: true, SupportsNack: true}, true},
		{"ack only", Capabilities{SupportsAck: true}, false},
		{"neither", Capabilities{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.caps.SupportsReliableDelivery())
		})
	}
}

func TestCapabilities_Fits(t *testing.T) {
	assert.True(t, Capabilities{}.Fits(10<<20), "zero limit means unlimited")
	assert.True(t, AWSCapabilities.Fits(1024))
	assert.False(t, AWSCapabilities.Fits(300000))
}

func TestPredefinedCapabilities(t *testing.T) {
	all := []Capabilities{
		ChannelCapabilities, KafkaCapabilities, RabbitMQCapabilities,
		NATSCapabilities, AWSCapabilities, HTTPCapabilities,
	}
	seen := map[string]bool{}
	for _, caps := range all {
		assert.NotEmpty(t, caps.Name)
		assert.False(t, seen[caps.Name], "duplicate capability name %s", caps.Name)
		seen[caps.Name] = true
	}

	assert.True(t, ChannelCapabilities.SupportsFanout)
	assert.False(t, KafkaCapabilities.SupportsFanout)
	assert.True(t, RabbitMQCapabilities.SupportsReliableDelivery())
}
