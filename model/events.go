package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type AggregateType string

const (
	AggregateCase     AggregateType = "case"
	AggregateWorkItem AggregateType = "work_item"
)

const (
	EventCaseCreated         = "case.created"
	EventCaseDetailsUpdated  = "case.details_updated"
	EventCaseSubmitted       = "case.submitted"
	EventCaseMovedToReview   = "case.moved_to_review"
	EventCaseApproved        = "case.approved"
	EventCaseRejected        = "case.rejected"
	EventCaseCancelled       = "case.cancelled"
	EventRiskAssessed        = "risk.assessed"
	EventWorkItemCreated     = "workitem.created"
	EventWorkItemAssigned    = "workitem.assigned"
	EventWorkItemReview      = "workitem.review_started"
	EventWorkItemForApproval = "workitem.submitted_for_approval"
	EventWorkItemApproved    = "workitem.approved"
	EventWorkItemCompleted   = "workitem.completed"
	EventWorkItemDeclined    = "workitem.declined"
	EventWorkItemEscalated   = "workitem.escalated"
	EventWorkItemReopened    = "workitem.reopened"
	EventWorkItemRiskUpdated = "workitem.risk_updated"
	EventWorkItemDueDateSet  = "workitem.due_date_set"
	EventWorkItemRefreshDue  = "workitem.refresh_due"
)

// EventMeta is the envelope data every event carries. Sequence is the aggregate
// version that produced the event.
type EventMeta struct {
	EventID    EventID
	OccurredAt time.Time
	Sequence   int64
}

// Event is implemented only by the event types in this package.
type Event interface {
	EventType() string
	AggregateType() AggregateType
	AggregateID() string
	// PartitionKey keeps every event of a case, including its work item's, on one ordered partition.
	PartitionKey() string
	Meta() EventMeta
	sealed()
}

type CaseEvent interface {
	Event
	caseEvent()
}

type WorkItemEvent interface {
	Event
	workItemEvent()
}

type caseBase struct {
	meta   EventMeta
	CaseID CaseID `json:"case_id"`
}

func newCaseBase(id CaseID, seq int64, now time.Time) caseBase {
	return caseBase{meta: EventMeta{EventID: NewEventID(), OccurredAt: now.UTC(), Sequence: seq}, CaseID: id}
}

func (b caseBase) AggregateType() AggregateType { return AggregateCase }
func (b caseBase) AggregateID() string          { return b.CaseID.String() }
func (b caseBase) PartitionKey() string         { return b.CaseID.String() }
func (b caseBase) Meta() EventMeta              { return b.meta }
func (b caseBase) sealed()                      {}
func (b caseBase) caseEvent()                   {}

type workItemBase struct {
	meta       EventMeta
	WorkItemID WorkItemID `json:"work_item_id"`
	CaseID     CaseID     `json:"case_id"`
}

func newWorkItemBase(w *WorkItem, now time.Time) workItemBase {
	return workItemBase{
		meta:       EventMeta{EventID: NewEventID(), OccurredAt: now.UTC(), Sequence: w.Version},
		WorkItemID: w.ID,
		CaseID:     w.CaseID,
	}
}

func (b workItemBase) AggregateType() AggregateType { return AggregateWorkItem }
func (b workItemBase) AggregateID() string          { return b.WorkItemID.String() }
func (b workItemBase) PartitionKey() string         { return b.CaseID.String() }
func (b workItemBase) Meta() EventMeta              { return b.meta }
func (b workItemBase) sealed()                      {}
func (b workItemBase) workItemEvent()               {}

// CaseSnapshot is the case state carried by CaseSubmitted so consumers need no read-back.
type CaseSnapshot struct {
	CaseNumber         string    `json:"case_number"`
	Type               CaseType  `json:"type"`
	PartnerID          string    `json:"partner_id"`
	PartnerReferenceID string    `json:"partner_reference_id"`
	DisplayName        string    `json:"display_name"`
	RiskLevel          RiskLevel `json:"risk_level,omitempty"`
	ProgressPercentage int       `json:"progress_percentage"`
}

type CaseCreated struct {
	caseBase
	CaseSnapshot
}

type CaseDetailsUpdated struct {
	caseBase
	DisplayName        string `json:"display_name"`
	ProgressPercentage int    `json:"progress_percentage"`
}

type CaseSubmitted struct {
	caseBase
	CaseSnapshot
	SubmittedAt time.Time `json:"submitted_at"`
}

type CaseMovedToReview struct {
	caseBase
}

type CaseApproved struct {
	caseBase
	ApprovedBy string `json:"approved_by"`
}

type CaseRejected struct {
	caseBase
	RejectedBy string `json:"rejected_by"`
	Reason     string `json:"reason"`
}

type CaseCancelled struct {
	caseBase
	Reason string `json:"reason,omitempty"`
}

// RiskAssessed carries the outcome of a risk assessment for a case.
type RiskAssessed struct {
	caseBase
	RiskLevel  RiskLevel `json:"risk_level"`
	Score      string    `json:"score,omitempty"`
	Source     string    `json:"source,omitempty"`
	AssessedAt time.Time `json:"assessed_at"`
}

func (CaseCreated) EventType() string        { return EventCaseCreated }
func (CaseDetailsUpdated) EventType() string { return EventCaseDetailsUpdated }
func (CaseSubmitted) EventType() string      { return EventCaseSubmitted }
func (CaseMovedToReview) EventType() string  { return EventCaseMovedToReview }
func (CaseApproved) EventType() string       { return EventCaseApproved }
func (CaseRejected) EventType() string       { return EventCaseRejected }
func (CaseCancelled) EventType() string      { return EventCaseCancelled }
func (RiskAssessed) EventType() string       { return EventRiskAssessed }

type WorkItemCreated struct {
	workItemBase
	RiskLevel        RiskLevel  `json:"risk_level"`
	Priority         Priority   `json:"priority"`
	RequiresApproval bool       `json:"requires_approval"`
	DueDate          *time.Time `json:"due_date,omitempty"`
}

type WorkItemAssigned struct {
	workItemBase
	ReviewerID string `json:"reviewer_id"`
	AssignedBy string `json:"assigned_by,omitempty"`
}

type WorkItemReviewStarted struct {
	workItemBase
	ReviewerID string `json:"reviewer_id"`
}

type WorkItemSubmittedForApproval struct {
	workItemBase
	ReviewerID string `json:"reviewer_id"`
}

type WorkItemApproved struct {
	workItemBase
	ApprovedBy string `json:"approved_by"`
}

type WorkItemCompleted struct {
	workItemBase
	ReviewerID      string    `json:"reviewer_id"`
	ApprovedBy      string    `json:"approved_by,omitempty"`
	NextRefreshDate time.Time `json:"next_refresh_date"`
}

type WorkItemDeclined struct {
	workItemBase
	DeclinedBy string `json:"declined_by,omitempty"`
	Reason     string `json:"reason"`
}

type WorkItemEscalated struct {
	workItemBase
	EscalatedBy string `json:"escalated_by"`
	Reason      string `json:"reason,omitempty"`
}

type WorkItemReopened struct {
	workItemBase
	ReopenedBy string    `json:"reopened_by"`
	DueDate    time.Time `json:"due_date"`
}

type WorkItemRiskUpdated struct {
	workItemBase
	RiskLevel        RiskLevel `json:"risk_level"`
	Priority         Priority  `json:"priority"`
	RequiresApproval bool      `json:"requires_approval"`
	ReturnedToReview bool      `json:"returned_to_review,omitempty"`
}

type WorkItemDueDateSet struct {
	workItemBase
	DueDate time.Time `json:"due_date"`
}

type WorkItemRefreshDue struct {
	workItemBase
	RefreshCount int       `json:"refresh_count"`
	Forced       bool      `json:"forced"`
	DueDate      time.Time `json:"due_date"`
}

func (WorkItemCreated) EventType() string              { return EventWorkItemCreated }
func (WorkItemAssigned) EventType() string             { return EventWorkItemAssigned }
func (WorkItemReviewStarted) EventType() string        { return EventWorkItemReview }
func (WorkItemSubmittedForApproval) EventType() string { return EventWorkItemForApproval }
func (WorkItemApproved) EventType() string             { return EventWorkItemApproved }
func (WorkItemCompleted) EventType() string            { return EventWorkItemCompleted }
func (WorkItemDeclined) EventType() string             { return EventWorkItemDeclined }
func (WorkItemEscalated) EventType() string            { return EventWorkItemEscalated }
func (WorkItemReopened) EventType() string             { return EventWorkItemReopened }
func (WorkItemRiskUpdated) EventType() string          { return EventWorkItemRiskUpdated }
func (WorkItemDueDateSet) EventType() string           { return EventWorkItemDueDateSet }
func (WorkItemRefreshDue) EventType() string           { return EventWorkItemRefreshDue }

// Envelope is the wire form of an event on the event channel.
type Envelope struct {
	EventID       EventID         `json:"event_id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType AggregateType   `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Sequence      int64           `json:"sequence"`
	PartitionKey  string          `json:"partition_key"`
	Payload       json.RawMessage `json:"payload"`
}

func NewEnvelope(e Event) (Envelope, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s payload: %w", e.EventType(), err)
	}
	m := e.Meta()
	return Envelope{
		EventID:       m.EventID,
		AggregateID:   e.AggregateID(),
		AggregateType: e.AggregateType(),
		EventType:     e.EventType(),
		OccurredAt:    m.OccurredAt,
		Sequence:      m.Sequence,
		PartitionKey:  e.PartitionKey(),
		Payload:       payload,
	}, nil
}

// ErrUnknownEventType is returned by Decode for event types this build does not know.
type ErrUnknownEventType struct{ EventType string }

func (e ErrUnknownEventType) Error() string {
	return fmt.Sprintf("unknown event type %q", e.EventType)
}

// Decode rebuilds the typed event carried by the envelope.
func (env Envelope) Decode() (Event, error) {
	meta := EventMeta{EventID: env.EventID, OccurredAt: env.OccurredAt, Sequence: env.Sequence}

	var (
		evt    Event
		target interface{}
	)
	switch env.EventType {
	case EventCaseCreated:
		e := &CaseCreated{}
		evt, target = e, e
	case EventCaseDetailsUpdated:
		e := &CaseDetailsUpdated{}
		evt, target = e, e
	case EventCaseSubmitted:
		e := &CaseSubmitted{}
		evt, target = e, e
	case EventCaseMovedToReview:
		e := &CaseMovedToReview{}
		evt, target = e, e
	case EventCaseApproved:
		e := &CaseApproved{}
		evt, target = e, e
	case EventCaseRejected:
		e := &CaseRejected{}
		evt, target = e, e
	case EventCaseCancelled:
		e := &CaseCancelled{}
		evt, target = e, e
	case EventRiskAssessed:
		e := &RiskAssessed{}
		evt, target = e, e
	case EventWorkItemCreated:
		e := &WorkItemCreated{}
		evt, target = e, e
	case EventWorkItemAssigned:
		e := &WorkItemAssigned{}
		evt, target = e, e
	case EventWorkItemReview:
		e := &WorkItemReviewStarted{}
		evt, target = e, e
	case EventWorkItemForApproval:
		e := &WorkItemSubmittedForApproval{}
		evt, target = e, e
	case EventWorkItemApproved:
		e := &WorkItemApproved{}
		evt, target = e, e
	case EventWorkItemCompleted:
		e := &WorkItemCompleted{}
		evt, target = e, e
	case EventWorkItemDeclined:
		e := &WorkItemDeclined{}
		evt, target = e, e
	case EventWorkItemEscalated:
		e := &WorkItemEscalated{}
		evt, target = e, e
	case EventWorkItemReopened:
		e := &WorkItemReopened{}
		evt, target = e, e
	case EventWorkItemRiskUpdated:
		e := &WorkItemRiskUpdated{}
		evt, target = e, e
	case EventWorkItemDueDateSet:
		e := &WorkItemDueDateSet{}
		evt, target = e, e
	case EventWorkItemRefreshDue:
		e := &WorkItemRefreshDue{}
		evt, target = e, e
	default:
		return nil, ErrUnknownEventType{EventType: env.EventType}
	}

	if err := json.Unmarshal(env.Payload, target); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", env.EventType, err)
	}
	setMeta(evt, meta)
	return evt, nil
}

func setMeta(evt Event, meta EventMeta) {
	switch e := evt.(type) {
	case *CaseCreated:
		e.meta = meta
	case *CaseDetailsUpdated:
		e.meta = meta
	case *CaseSubmitted:
		e.meta = meta
	case *CaseMovedToReview:
		e.meta = meta
	case *CaseApproved:
		e.meta = meta
	case *CaseRejected:
		e.meta = meta
	case *CaseCancelled:
		e.meta = meta
	case *RiskAssessed:
		e.meta = meta
	case *WorkItemCreated:
		e.meta = meta
	case *WorkItemAssigned:
		e.meta = meta
	case *WorkItemReviewStarted:
		e.meta = meta
	case *WorkItemSubmittedForApproval:
		e.meta = meta
	case *WorkItemApproved:
		e.meta = meta
	case *WorkItemCompleted:
		e.meta = meta
	case *WorkItemDeclined:
		e.meta = meta
	case *WorkItemEscalated:
		e.meta = meta
	case *WorkItemReopened:
		e.meta = meta
	case *WorkItemRiskUpdated:
		e.meta = meta
	case *WorkItemDueDateSet:
		e.meta = meta
	case *WorkItemRefreshDue:
		e.meta = meta
	}
}

// OutboxEvent is a persisted event awaiting publication.
type OutboxEvent struct {
	EventID        EventID         `json:"event_id"`
	AggregateID    string          `json:"aggregate_id"`
	AggregateType  AggregateType   `json:"aggregate_type"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Sequence       int64           `json:"sequence"`
	PartitionKey   string          `json:"partition_key"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	ClaimedBy      string          `json:"claimed_by,omitempty"`
	ClaimExpiresAt *time.Time      `json:"claim_expires_at,omitempty"`
	Attempts       int             `json:"attempts"`
	LastError      string          `json:"last_error,omitempty"`
}

func NewOutboxEvent(e Event) (OutboxEvent, error) {
	env, err := NewEnvelope(e)
	if err != nil {
		return OutboxEvent{}, err
	}
	return OutboxEvent{
		EventID:       env.EventID,
		AggregateID:   env.AggregateID,
		AggregateType: env.AggregateType,
		EventType:     env.EventType,
		Payload:       env.Payload,
		OccurredAt:    env.OccurredAt,
		Sequence:      env.Sequence,
		PartitionKey:  env.PartitionKey,
	}, nil
}

func (o OutboxEvent) Envelope() Envelope {
	return Envelope{
		EventID:       o.EventID,
		AggregateID:   o.AggregateID,
		AggregateType: o.AggregateType,
		EventType:     o.EventType,
		OccurredAt:    o.OccurredAt,
		Sequence:      o.Sequence,
		PartitionKey:  o.PartitionKey,
		Payload:       o.Payload,
	}
}
