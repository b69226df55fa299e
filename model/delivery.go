package model

import (
	"encoding/json"
	"time"
)

type DeliveryKind string

const (
	DeliveryAudit        DeliveryKind = "audit"
	DeliveryNotification DeliveryKind = "notification"
)

// ParkedDelivery is an audit entry or notification trigger that could not be queued after
// its transition committed. It is kept in the database until the queue accepts it.
type ParkedDelivery struct {
	ID        int64           `json:"id"`
	Kind      DeliveryKind    `json:"kind"`
	EventID   string          `json:"event_id"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	ParkedAt  time.Time       `json:"parked_at"`
}

func NewParkedDelivery(kind DeliveryKind, eventID string, payload interface{}, cause error) (ParkedDelivery, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return ParkedDelivery{}, err
	}
	p := ParkedDelivery{Kind: kind, EventID: eventID, Payload: raw}
	if cause != nil {
		p.LastError = cause.Error()
	}
	return p, nil
}
