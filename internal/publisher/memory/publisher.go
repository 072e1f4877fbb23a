// Package memory keeps record notifications in process. It backs
// pubsub.provider=memory for dry runs and the sink tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Notification is one accepted publish, with the payload as it would have
// gone over the wire.
type Notification struct {
	ID      string
	Topic   string
	Payload any
	Data    []byte
}

// Publisher retains notifications in publish order.
type Publisher struct {
	logger *zap.Logger

	mu   sync.Mutex
	seq  int
	sent []Notification
}

// New returns an empty Publisher. A nil logger disables logging.
func New(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger.Named("memory_publisher")}
}

// Publish encodes payload as JSON and keeps it. Unencodable payloads are
// rejected the same way the Pub/Sub publisher rejects them.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode notification: %w", err)
	}
	p.mu.Lock()
	p.seq++
	id := fmt.Sprintf("%s-%d", topic, p.seq)
	p.sent = append(p.sent, Notification{ID: id, Topic: topic, Payload: payload, Data: data})
	p.mu.Unlock()

	p.logger.Debug("notification published", zap.String("topic", topic), zap.String("id", id), zap.ByteString("data", data))
	return id, nil
}

// Notifications returns a copy of everything published so far.
func (p *Publisher) Notifications() []Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Notification, len(p.sent))
	copy(out, p.sent)
	return out
}

// Close is a no-op kept for parity with the Pub/Sub publisher.
func (p *Publisher) Close() error { return nil }
