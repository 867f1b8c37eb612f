// Package hooks provides the in-process event bus that registry, engine and
// ledger publish lifecycle events on.
package hooks

import (
	"context"
	"sync"

	"github.com/arko05roy/swarm/internal/logging"
)

// Event names for the hook system.
const (
	EventAgentRegistered     = "agent_registered"
	EventAgentUnregistered   = "agent_unregistered"
	EventExecutionCompleted  = "execution_completed"
	EventExecutionRejected   = "execution_rejected"
	EventEarningsSettled     = "earnings_settled"
	EventEarningsDistributed = "earnings_distributed"
	EventInvestmentMade      = "investment_made"
	EventWithdrawalCompleted = "withdrawal_completed"
	EventGatewayStart        = "gateway_start"
	EventGatewayStop         = "gateway_stop"
)

// AllEvents lists all known hook event names.
var AllEvents = []string{
	EventAgentRegistered,
	EventAgentUnregistered,
	EventExecutionCompleted,
	EventExecutionRejected,
	EventEarningsSettled,
	EventEarningsDistributed,
	EventInvestmentMade,
	EventWithdrawalCompleted,
	EventGatewayStart,
	EventGatewayStop,
}

// Payload is what a handler receives. Data is shared between handlers and
// must not be modified.
type Payload struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler reacts to one event. Errors and panics are logged; they never
// reach the component that emitted the event.
type Handler func(ctx context.Context, p Payload) error

type subscriber struct {
	name string
	fn   Handler
}

// Manager routes events to subscribers. A nil *Manager drops every event,
// so components emit unconditionally.
type Manager struct {
	mu   sync.RWMutex
	subs map[string][]subscriber
	log  *logging.Logger
}

func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		subs: make(map[string][]subscriber),
		log:  log.Sub("hooks"),
	}
}

// On subscribes fn to event under name. Names need not be unique; Off and
// Detach remove every subscription with the name.
func (m *Manager) On(event, name string, fn Handler) {
	m.mu.Lock()
	m.subs[event] = append(m.subs[event], subscriber{name: name, fn: fn})
	m.mu.Unlock()
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// OnAll subscribes fn to every event in AllEvents.
func (m *Manager) OnAll(name string, fn Handler) {
	for _, event := range AllEvents {
		m.On(event, name, fn)
	}
}

// Off removes name's subscriptions to event.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(event, name)
}

// Detach removes name's subscriptions to every event.
func (m *Manager) Detach(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for event := range m.subs {
		m.remove(event, name)
	}
}

func (m *Manager) remove(event, name string) {
	kept := m.subs[event][:0:0]
	for _, s := range m.subs[event] {
		if s.name != name {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(m.subs, event)
		return
	}
	m.subs[event] = kept
}

// Emit calls the subscribers of event synchronously, in subscription order.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	m.mu.RLock()
	subs := append([]subscriber(nil), m.subs[event]...)
	m.mu.RUnlock()

	p := Payload{Event: event, Data: data}
	for _, s := range subs {
		m.call(ctx, s, p)
	}
}

func (m *Manager) call(ctx context.Context, s subscriber, p Payload) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Str("event", p.Event).Str("handler", s.name).Msg("hook handler panicked")
		}
	}()
	if err := s.fn(ctx, p); err != nil {
		m.log.Warn().Err(err).Str("event", p.Event).Str("handler", s.name).Msg("hook handler error")
	}
}

// Count returns the number of subscriptions to event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[event])
}
