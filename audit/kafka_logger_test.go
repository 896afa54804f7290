package audit

import "testing"

func TestNewKafkaLoggerDefaultsTopic(t *testing.T) {
	k := NewKafkaLogger(nil, "")
	if k.topic != DefaultTopic {
		t.Fatalf("topic = %q, want %q", k.topic, DefaultTopic)
	}

	k = NewKafkaLogger(nil, "custom.topic")
	if k.topic != "custom.topic" {
		t.Fatalf("topic = %q, want %q", k.topic, "custom.topic")
	}
}
