// Package events delivers engine events to the notification and payment
// collaborators. Publishing happens after the command's transaction commits.
package events

import (
	"context" // Context for publishing
	"errors"  // Joining fan-out failures
	"sync"    // Guarding the memory publisher

	"tontine_system/internal/domain" // Event payloads

	"github.com/sirupsen/logrus" // Structured logging
)

// Publisher hands an event to an external collaborator
type Publisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}

// LogPublisher writes every event to the structured log
type LogPublisher struct{}

// Publish logs the event
func (LogPublisher) Publish(_ context.Context, evt domain.Event) error {
	fields := logrus.Fields{
		"event":      evt.Type,
		"tontine_id": evt.TontineID,
	}
	if evt.RoundNumber > 0 {
		fields["round"] = evt.RoundNumber
	}
	if evt.MemberID != nil {
		fields["member_id"] = *evt.MemberID
	}
	if evt.PayoutMemberID != nil {
		fields["payout_member_id"] = *evt.PayoutMemberID
	}
	if evt.Amount != nil {
		fields["amount"] = evt.Amount.StringFixed(2)
	}
	logrus.WithFields(fields).Info("Tontine event")
	return nil
}

// Fanout publishes to every publisher, even when one of them fails
type Fanout []Publisher

// Publish delivers evt to all publishers and joins their errors
func (f Fanout) Publish(ctx context.Context, evt domain.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemoryPublisher keeps events in memory, for tests and local runs
type MemoryPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

// Publish appends the event
func (m *MemoryPublisher) Publish(_ context.Context, evt domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

// Events returns a copy of the published events
func (m *MemoryPublisher) Events() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Event(nil), m.events...)
}

// OfType returns the published events of one type
func (m *MemoryPublisher) OfType(eventType string) []domain.Event {
	var out []domain.Event
	for _, evt := range m.Events() {
		if evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}
