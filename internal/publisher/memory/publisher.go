// Package memory keeps analysis lifecycle events in process for development
// and tests. Payloads are encoded the way the Pub/Sub publisher sends them, so
// a payload that would fail on the wire fails here too.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is one recorded event as a subscriber would receive it.
type Message struct {
	ID    string
	Event string
	Data  []byte
}

// Decode unmarshals the message body into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s message %s: %w", m.Event, m.ID, err)
	}
	return nil
}

// Publisher records published events grouped by event name.
type Publisher struct {
	mu      sync.RWMutex
	seq     int
	order   []Message
	byEvent map[string][]int
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{byEvent: make(map[string][]int)}
}

// Publish encodes payload as JSON and records it under event.
func (p *Publisher) Publish(ctx context.Context, event string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if event == "" {
		return "", fmt.Errorf("event name is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	msg := Message{ID: fmt.Sprintf("memory-%d", p.seq), Event: event, Data: data}
	p.byEvent[event] = append(p.byEvent[event], len(p.order))
	p.order = append(p.order, msg)
	return msg.ID, nil
}

// Messages returns every recorded message in publish order.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.order))
	for i, m := range p.order {
		out[i] = cloneMessage(m)
	}
	return out
}

// MessagesFor returns the messages recorded under event in publish order.
func (p *Publisher) MessagesFor(event string) []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	idx := p.byEvent[event]
	out := make([]Message, len(idx))
	for i, j := range idx {
		out[i] = cloneMessage(p.order[j])
	}
	return out
}

// Count reports how many messages were recorded under event.
func (p *Publisher) Count(event string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byEvent[event])
}

func cloneMessage(m Message) Message {
	m.Data = append([]byte(nil), m.Data...)
	return m
}
