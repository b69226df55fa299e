package model

import (
	"fmt"

	"github.com/google/uuid"
)

// CaseID identifies an onboarding case. Conversions to and from uuid.UUID are explicit.
type CaseID struct{ id uuid.UUID }

// WorkItemID identifies a review work item.
type WorkItemID struct{ id uuid.UUID }

// EventID identifies a single domain event across outbox, stream and projections.
type EventID struct{ id uuid.UUID }

func NewCaseID() CaseID         { return CaseID{id: uuid.New()} }
func NewWorkItemID() WorkItemID { return WorkItemID{id: uuid.New()} }
func NewEventID() EventID       { return EventID{id: uuid.New()} }

func CaseIDFromUUID(u uuid.UUID) CaseID         { return CaseID{id: u} }
func WorkItemIDFromUUID(u uuid.UUID) WorkItemID { return WorkItemID{id: u} }
func EventIDFromUUID(u uuid.UUID) EventID       { return EventID{id: u} }

func ParseCaseID(s string) (CaseID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return CaseID{}, fmt.Errorf("invalid case id %q: %w", s, err)
	}
	return CaseID{id: u}, nil
}

func ParseWorkItemID(s string) (WorkItemID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return WorkItemID{}, fmt.Errorf("invalid work item id %q: %w", s, err)
	}
	return WorkItemID{id: u}, nil
}

func ParseEventID(s string) (EventID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return EventID{}, fmt.Errorf("invalid event id %q: %w", s, err)
	}
	return EventID{id: u}, nil
}

func (c CaseID) UUID() uuid.UUID   { return c.id }
func (c CaseID) String() string    { return c.id.String() }
func (c CaseID) IsZero() bool      { return c.id == uuid.Nil }
func (w WorkItemID) UUID() uuid.UUID { return w.id }
func (w WorkItemID) String() string  { return w.id.String() }
func (w WorkItemID) IsZero() bool    { return w.id == uuid.Nil }
func (e EventID) UUID() uuid.UUID  { return e.id }
func (e EventID) String() string   { return e.id.String() }
func (e EventID) IsZero() bool     { return e.id == uuid.Nil }

func (c CaseID) MarshalText() ([]byte, error) { return c.id.MarshalText() }
func (c *CaseID) UnmarshalText(b []byte) error {
	return c.id.UnmarshalText(b)
}

func (w WorkItemID) MarshalText() ([]byte, error) { return w.id.MarshalText() }
func (w *WorkItemID) UnmarshalText(b []byte) error {
	return w.id.UnmarshalText(b)
}

func (e EventID) MarshalText() ([]byte, error) { return e.id.MarshalText() }
func (e *EventID) UnmarshalText(b []byte) error {
	return e.id.UnmarshalText(b)
}
