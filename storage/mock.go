package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"sentinel/core"
)

// ErrInjectedFailure is returned by mock stores with FailWrites set.
var ErrInjectedFailure = errors.New("injected store failure")

// MockEventStore is an in-memory EventStore for tests and for running
// without a database.
type MockEventStore struct {
	mu         sync.Mutex
	events     []*core.Event
	FailWrites bool
}

// NewMockEventStore creates an empty in-memory event store.
func NewMockEventStore() *MockEventStore { return &MockEventStore{} }

func (m *MockEventStore) SaveEvent(_ context.Context, event *core.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return ErrInjectedFailure
	}
	m.events = append(m.events, event)
	return nil
}

func (m *MockEventStore) DeleteEventsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return 0, ErrInjectedFailure
	}
	kept := m.events[:0]
	var deleted int64
	for _, e := range m.events {
		if e.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return deleted, nil
}

// Events returns a copy of the stored events.
func (m *MockEventStore) Events() []*core.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*core.Event, len(m.events))
	copy(out, m.events)
	return out
}

// MockAlertStore is an in-memory AlertStore.
type MockAlertStore struct {
	mu         sync.Mutex
	alerts     []*core.Alert
	FailWrites bool
}

// NewMockAlertStore creates an empty in-memory alert store.
func NewMockAlertStore() *MockAlertStore { return &MockAlertStore{} }

func (m *MockAlertStore) SaveAlert(_ context.Context, alert *core.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return ErrInjectedFailure
	}
	m.alerts = append(m.alerts, alert)
	return nil
}

// Alerts returns a copy of the stored alerts.
func (m *MockAlertStore) Alerts() []*core.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*core.Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// MockIncidentStore is an in-memory IncidentStore.
type MockIncidentStore struct {
	mu         sync.Mutex
	incidents  []*core.Incident
	FailWrites bool
}

// NewMockIncidentStore creates an empty in-memory incident store.
func NewMockIncidentStore() *MockIncidentStore { return &MockIncidentStore{} }

func (m *MockIncidentStore) SaveIncident(_ context.Context, incident *core.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return ErrInjectedFailure
	}
	m.incidents = append(m.incidents, incident)
	return nil
}

// Incidents returns a copy of the stored incidents.
func (m *MockIncidentStore) Incidents() []*core.Incident {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*core.Incident, len(m.incidents))
	copy(out, m.incidents)
	return out
}

// NewMockStores bundles fresh in-memory stores.
func NewMockStores() (Stores, *MockEventStore, *MockAlertStore, *MockIncidentStore) {
	events := NewMockEventStore()
	alerts := NewMockAlertStore()
	incidents := NewMockIncidentStore()
	return Stores{Events: events, Alerts: alerts, Incidents: incidents}, events, alerts, incidents
}
