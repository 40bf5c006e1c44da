package mq

import (
	"context"
	"testing"
	"time"
)

func TestToKafkaMessage(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := &Message{ID: "run-1", Body: []byte(`{"score":100}`), Timestamp: ts}
	msg.SetHeader("b", "2")
	msg.SetHeader("a", "1")

	km := toKafkaMessage("judge.report", msg)
	if km.Topic != "judge.report" || string(km.Key) != "run-1" {
		t.Fatalf("unexpected topic/key: %s %s", km.Topic, km.Key)
	}
	if string(km.Value) != `{"score":100}` {
		t.Fatalf("unexpected body: %s", km.Value)
	}
	wantKeys := []string{"a", "b", headerID, headerTimestamp}
	if len(km.Headers) != len(wantKeys) {
		t.Fatalf("expected %d headers, got %d", len(wantKeys), len(km.Headers))
	}
	for i, h := range km.Headers {
		if h.Key != wantKeys[i] {
			t.Fatalf("header %d: expected %s, got %s", i, wantKeys[i], h.Key)
		}
	}
	if string(km.Headers[3].Value) != ts.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp header: %s", km.Headers[3].Value)
	}
}

func TestToKafkaMessageFillsTimestamp(t *testing.T) {
	msg := &Message{Body: []byte("x")}
	km := toKafkaMessage("t", msg)
	if km.Time.IsZero() || msg.Timestamp.IsZero() {
		t.Fatalf("expected timestamp to be filled")
	}
	if len(km.Key) != 0 {
		t.Fatalf("expected empty key, got %q", km.Key)
	}
}

func TestKafkaProducerValidation(t *testing.T) {
	if _, err := NewKafkaProducer(KafkaConfig{}); err == nil {
		t.Fatalf("expected error without brokers")
	}
	p, err := NewKafkaProducer(KafkaConfig{Brokers: []string{"127.0.0.1:1"}})
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	defer p.Close()
	if err := p.Publish(context.Background(), "", NewMessage("id", nil)); err == nil {
		t.Fatalf("expected error for empty topic")
	}
	if err := p.Publish(context.Background(), "t", nil); err == nil {
		t.Fatalf("expected error for nil message")
	}
}

func TestKafkaProducerPingUnreachable(t *testing.T) {
	p, err := NewKafkaProducer(KafkaConfig{Brokers: []string{"127.0.0.1:1"}, DialTimeout: time.Second})
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	defer p.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err == nil {
		t.Fatalf("expected ping to fail without a broker")
	}
}
