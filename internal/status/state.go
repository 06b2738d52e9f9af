// Package status tracks the daemon lifecycle and reports it as gRPC health.
package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/aifocusdev/focos-ia-sub000/internal/bus"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// State represents a daemon runtime state.
type State string

const (
	Booting  State = "BOOTING"
	Ready    State = "READY"
	Draining State = "DRAINING"
	Error    State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:  {Ready, Error},
	Ready:    {Draining, Error},
	Draining: {Error},
	Error:    {Booting},
}

// Machine tracks and enforces daemon runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	pub     bus.Publisher
	health  *health.Server
}

// NewMachine creates a new state machine starting in Booting state. pub and
// hs may be nil.
func NewMachine(pub bus.Publisher, hs *health.Server) *Machine {
	m := &Machine{current: Booting, pub: pub, health: hs}
	m.reportHealth(Booting)
	return m
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.reportHealth(to)
	if m.pub != nil {
		m.pub.Publish(bus.Event{
			Kind:    bus.KindDaemonStatusChanged,
			Payload: StatusChange{From: from, To: to},
		})
	}
	return nil
}

// ServingStatus maps a state to its health status. Only READY serves.
func ServingStatus(s State) healthpb.HealthCheckResponse_ServingStatus {
	if s == Ready {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

func (m *Machine) reportHealth(s State) {
	if m.health != nil {
		m.health.SetServingStatus("", ServingStatus(s))
	}
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
