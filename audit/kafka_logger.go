package audit

import (
	"context"

	"github.com/kestrelproxy/jwtauth/messaging"
)

// DefaultTopic is where AuthRequest completion events land when no topic is
// configured.
const DefaultTopic = "jwtauth.audit.events"

// KafkaLogger publishes Events through the shared messaging.Producer rather
// than owning a second Kafka client: one audit event is one more message on
// the same broker connection the rest of the service already uses.
type KafkaLogger struct {
	producer *messaging.Producer
	topic    string
}

// NewKafkaLogger wraps producer to publish to topic (DefaultTopic if empty).
func NewKafkaLogger(producer *messaging.Producer, topic string) *KafkaLogger {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaLogger{producer: producer, topic: topic}
}

func (k *KafkaLogger) Log(ctx context.Context, event Event) error {
	key := event.RequestID
	if key == "" {
		key = event.ActorID
	}
	return k.producer.Publish(ctx, k.topic, key, event)
}
