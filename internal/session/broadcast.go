package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Transport delivers one serialized payload to a single client connection.
// Implementations must be safe to call from the session goroutines.
type Transport interface {
	Send(payload []byte) error
}

// Broadcaster fans a single serialized event out to every attached transport.
// Failed transports are evicted rather than aborting delivery to the rest.
type Broadcaster struct {
	mu         sync.Mutex
	transports map[string]Transport
	sent       atomic.Uint64
	failed     atomic.Uint64
}

// NewBroadcaster returns an empty broadcaster ready for attachments.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{transports: make(map[string]Transport)}
}

// Attach registers or replaces the transport for one identity.
func (b *Broadcaster) Attach(identity string, transport Transport) {
	if b == nil || identity == "" || transport == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transports[identity] = transport
}

// Detach removes the transport registered for an identity, if any.
func (b *Broadcaster) Detach(identity string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.transports, identity)
}

// Size reports how many transports are currently attached.
func (b *Broadcaster) Size() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.transports)
}

// Totals reports the lifetime delivered and failed send counts.
func (b *Broadcaster) Totals() (sent, failed uint64) {
	if b == nil {
		return 0, 0
	}
	return b.sent.Load(), b.failed.Load()
}

// Broadcast serializes event once and delivers it to every attached
// transport. Transports whose send fails are evicted and their identities
// returned so the caller can clean up connection state; delivery to the
// remaining transports always proceeds.
func (b *Broadcaster) Broadcast(event any) ([]string, error) {
	if b == nil {
		return nil, nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode broadcast: %w", err)
	}

	b.mu.Lock()
	targets := make(map[string]Transport, len(b.transports))
	for identity, transport := range b.transports {
		targets[identity] = transport
	}
	b.mu.Unlock()

	//1.- Deliver outside the lock so a slow transport cannot stall attachment.
	var evicted []string
	for identity, transport := range targets {
		if err := transport.Send(payload); err != nil {
			b.failed.Add(1)
			evicted = append(evicted, identity)
			continue
		}
		b.sent.Add(1)
	}

	//2.- Drop every failed transport so the next broadcast skips it.
	if len(evicted) > 0 {
		b.mu.Lock()
		for _, identity := range evicted {
			delete(b.transports, identity)
		}
		b.mu.Unlock()
		sort.Strings(evicted)
	}
	return evicted, nil
}

// SendTo serializes event and delivers it to a single identity.
func (b *Broadcaster) SendTo(identity string, event any) error {
	if b == nil {
		return fmt.Errorf("broadcaster not initialised")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode send: %w", err)
	}

	b.mu.Lock()
	transport, ok := b.transports[identity]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("no transport for %q", identity)
	}

	if err := transport.Send(payload); err != nil {
		b.failed.Add(1)
		b.Detach(identity)
		return fmt.Errorf("send to %q: %w", identity, err)
	}
	b.sent.Add(1)
	return nil
}
