// Package memory contains an in-process run summary publisher for local runs
// and tests. Payloads are JSON-encoded exactly as the Pub/Sub publisher sends
// them.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JakeFAU/retail-content-ingestor/internal/ingest"
)

var _ ingest.Publisher = (*Publisher)(nil)

// Message is one published summary.
type Message struct {
	ID    string
	Topic string
	Data  []byte
}

// Decode unmarshals the message body into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode message %s: %w", m.ID, err)
	}
	return nil
}

// Publisher keeps every message in publish order.
type Publisher struct {
	mu   sync.Mutex
	sent []Message
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish encodes payload and records it under a sequential id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	msg := Message{ID: fmt.Sprintf("memory-%d", len(p.sent)+1), Topic: topic, Data: data}
	p.sent = append(p.sent, msg)
	return msg.ID, nil
}

// Last returns the most recent message.
func (p *Publisher) Last() (Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sent) == 0 {
		return Message{}, false
	}
	return p.sent[len(p.sent)-1], true
}

// Messages returns a copy of every recorded message.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.sent...)
}
