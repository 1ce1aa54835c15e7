package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

const defaultPublishTimeout = 3 * time.Second

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes notifications as JSON events keyed by audience, so
// a downstream consumer sees one audience's events in order.
type KafkaNotifier struct {
	writer  messageWriter
	timeout time.Duration
	now     func() time.Time
}

// NewKafkaNotifier creates a notifier writing to topic on the comma-separated brokers.
func NewKafkaNotifier(brokersCSV, topic string) (*KafkaNotifier, error) {
	brokers := splitCSV(brokersCSV)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka notifier: no brokers configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka notifier: topic is required")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaNotifier{writer: w, timeout: defaultPublishTimeout, now: time.Now}, nil
}

func (n *KafkaNotifier) Notify(ctx context.Context, audience, title string, metadata map[string]any) error {
	now := n.now()
	b, err := json.Marshal(Event{Audience: audience, Title: title, Metadata: metadata, SentAt: now})
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	// a short timeout so an unreachable broker cannot stall the caller
	cctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if err := n.writer.WriteMessages(cctx, kafka.Message{
		Key:   []byte(audience),
		Value: b,
		Time:  now,
	}); err != nil {
		return fmt.Errorf("publishing notification: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
