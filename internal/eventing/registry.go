package eventing

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// Registry resolves the type names stored on outbox envelopes back to the
// concrete pipeline events they carry. Every event published through the
// outbox is registered at startup; an envelope whose type was never
// registered cannot be replayed and lands in the DLQ.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]func() any
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]func() any)}
}

// Register adds an event type from a prototype value or pointer.
func (r *Registry) Register(prototype any) {
	if r == nil || prototype == nil {
		return
	}
	t := reflect.TypeOf(prototype)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.mu.Lock()
	r.decoders[t.String()] = func() any {
		return reflect.New(t).Interface()
	}
	r.mu.Unlock()
}

// DecodePayload rebuilds the concrete event an envelope carries.
func (r *Registry) DecodePayload(envelope Envelope) (any, error) {
	if r == nil {
		return nil, fmt.Errorf("eventing: nil registry")
	}
	r.mu.RLock()
	decoder := r.decoders[envelope.EventType]
	r.mu.RUnlock()
	if decoder == nil {
		return nil, fmt.Errorf("eventing: unregistered event type %q", envelope.EventType)
	}
	target := decoder()
	if err := json.Unmarshal(envelope.Payload, target); err != nil {
		return nil, fmt.Errorf("eventing: decode %s: %w", envelope.EventType, err)
	}
	value := reflect.ValueOf(target)
	if value.Kind() == reflect.Ptr && !value.IsNil() {
		return value.Elem().Interface(), nil
	}
	return target, nil
}
