package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/flowrpc/internal/runtime/errors"
	"github.com/drblury/flowrpc/internal/runtime/events"
	"github.com/drblury/flowrpc/internal/runtime/logging"
	"github.com/drblury/flowrpc/internal/runtime/metadata"
	"github.com/drblury/flowrpc/internal/runtime/subscription"
	"github.com/drblury/flowrpc/transport"
)

func (s *Service) buildEventBus(builder transport.Builder) error {
	name := s.Conf.EventBusTransport
	if name == "" {
		return nil
	}
	if builder == nil {
		builder = transportBuild
	}

	built, err := builder(context.Background(), s.Conf, logging.NewWatermillAdapter(s.Logger))
	if err != nil {
		return fmt.Errorf("failed to build %s event bus: %w", name, err)
	}
	s.eventBus = built
	s.Logger.Info("Event bus ready", logging.LogFields{"transport": name})
	return nil
}

// Publisher exposes the event-bus publisher, nil when none is configured.
func (s *Service) Publisher() message.Publisher {
	return s.eventBus.Publisher
}

// Publish emits v as a JSON event. The correlation id of ctx, if any, travels
// in the message metadata.
func (s *Service) Publish(ctx context.Context, topic string, v any) error {
	msg, err := events.NewJSONMessage(v, eventMetadata(ctx))
	if err != nil {
		return err
	}
	return s.publish(ctx, topic, msg)
}

// PublishProto emits event as protobuf JSON.
func (s *Service) PublishProto(ctx context.Context, topic string, event proto.Message) error {
	msg, err := events.NewProtoMessage(event, eventMetadata(ctx))
	if err != nil {
		return err
	}
	return s.publish(ctx, topic, msg)
}

func (s *Service) publish(ctx context.Context, topic string, msg *message.Message) error {
	if s.eventBus.Publisher == nil {
		return errspkg.ErrEventBusDisabled
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	msg.SetContext(ctx)
	return s.eventBus.Publisher.Publish(topic, msg)
}

func eventMetadata(ctx context.Context) metadata.Metadata {
	if id := CorrelationID(ctx); id != "" {
		return metadata.New(events.MetadataKeyCorrelationID, id)
	}
	return nil
}

// SubscribeTopic feeds a subscription from topic. The bus subscription is
// opened right away, so events published after SubscribeTopic returns are
// not lost, and is released when the subscription stops.
func (s *Service) SubscribeTopic(ctx context.Context, topic string, decode events.Decoder) (*subscription.Subscription, error) {
	if s.eventBus.Subscriber == nil {
		return nil, errspkg.ErrEventBusDisabled
	}
	if topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if decode == nil {
		return nil, errors.New("subscribe topic requires a decoder")
	}

	subCtx, cancel := context.WithCancel(ctx)
	msgs, err := s.eventBus.Subscriber.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	sub := subscription.FromMessages(subCtx, msgs, func(msg *message.Message) (any, error) {
		v, err := decode(msg)
		if err != nil {
			s.Logger.Error("Dropping undecodable event", err, logging.LogFields{
				"topic":        topic,
				"message_uuid": msg.UUID,
			})
		}
		return v, err
	})
	sub.OnStop(cancel)
	return sub, nil
}
