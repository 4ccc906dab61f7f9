package smtp

import (
	"context"
	"slices"
	"sync"
)

// Envelope is one accepted mail transaction.
type Envelope struct {
	From string
	To   []string
	Data []byte
}

// Handler consumes accepted messages. A non-nil error is reported to the
// client as a temporary failure.
type Handler interface {
	Deliver(ctx context.Context, env *Envelope) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, env *Envelope) error

// Deliver calls f.
func (f HandlerFunc) Deliver(ctx context.Context, env *Envelope) error {
	return f(ctx, env)
}

// Recorder is a Handler that keeps every envelope in memory.
type Recorder struct {
	mu        sync.Mutex
	envelopes []*Envelope
}

// Deliver stores env.
func (r *Recorder) Deliver(_ context.Context, env *Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = append(r.envelopes, env)
	return nil
}

// Envelopes returns the recorded envelopes in arrival order.
func (r *Recorder) Envelopes() []*Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.envelopes)
}
