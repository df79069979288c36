package metadata

import (
	"maps"

	"github.com/ThreeDotsLabs/watermill/message"
)

// FromWatermill copies the metadata of an event-bus message. The result is
// never nil.
func FromWatermill(md message.Metadata) Metadata {
	out := make(Metadata, len(md))
	maps.Copy(out, md)
	return out
}

// Stamp adds md to msg. Keys msg already carries are kept, so headers set by
// the event codec win over caller metadata.
func Stamp(msg *message.Message, md Metadata) {
	if msg.Metadata == nil {
		msg.Metadata = make(message.Metadata, len(md))
	}
	for k, v := range md {
		if _, exists := msg.Metadata[k]; !exists {
			msg.Metadata[k] = v
		}
	}
}
