// Package notify delivers workflow events to administrators. Delivery is
// best effort: callers log failures and never roll back committed work.
package notify

import (
	"context"
	"errors"
	"log"
)

const (
	EventUnlockRequested = "unlock_request.created"
	EventUnlockApproved  = "unlock_request.approved"
	EventUnlockRejected  = "unlock_request.rejected"
	EventTransition      = "program.transition"
)

// Event is the payload shared by every channel.
type Event struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	ProgramID   string   `json:"program_id"`
	ProgramCode string   `json:"program_code,omitempty"`
	RequestID   string   `json:"request_id,omitempty"`
	ActorID     string   `json:"actor_id"`
	ActorName   string   `json:"actor_name,omitempty"`
	ActorRole   string   `json:"actor_role,omitempty"`
	FromStatus  string   `json:"from_status,omitempty"`
	ToStatus    string   `json:"to_status,omitempty"`
	Message     string   `json:"message,omitempty"`
	Recipients  []string `json:"recipients,omitempty"`
	TS          string   `json:"ts"`
}

type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Log writes one line per event.
type Log struct {
	Logger *log.Logger
}

func (l Log) Notify(_ context.Context, evt Event) error {
	logger := l.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("notify: %s program=%s request=%s actor=%s %s", evt.Type, evt.ProgramID, evt.RequestID, evt.ActorID, evt.Message)
	return nil
}

// Multi fans out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, evt Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
