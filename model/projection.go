package model

import (
	"time"

	"github.com/blnkfinance/onboarding/internal/apierror"
)

// Projection field names. Each field carries the stamp of the event that last wrote it.
const (
	FieldCaseIdentity     = "case_identity"
	FieldDisplayName      = "display_name"
	FieldCaseStatus       = "case_status"
	FieldProgress         = "progress_percentage"
	FieldRiskLevel        = "risk_level"
	FieldSubmittedAt      = "submitted_at"
	FieldDecision         = "decision"
	FieldWorkItem         = "work_item_id"
	FieldWorkItemStatus   = "work_item_status"
	FieldAssignedTo       = "assigned_to"
	FieldApprovedBy       = "approved_by"
	FieldRequiresApproval = "requires_approval"
	FieldEscalated        = "escalated"
	FieldPriority         = "priority"
	FieldDueDate          = "due_date"
	FieldNextRefreshDate  = "next_refresh_date"
	FieldRefreshCount     = "refresh_count"
)

// DefaultProcessedEventLimit bounds the per-row duplicate detection window.
const DefaultProcessedEventLimit = 256

// FieldStamp identifies the event that produced a projected value.
type FieldStamp struct {
	EventID       EventID       `json:"event_id"`
	AggregateType AggregateType `json:"aggregate_type"`
	Sequence      int64         `json:"sequence"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

func StampOf(e Event) FieldStamp {
	m := e.Meta()
	return FieldStamp{EventID: m.EventID, AggregateType: e.AggregateType(), Sequence: m.Sequence, OccurredAt: m.OccurredAt}
}

// NewerThan orders writes to one field. Events of the same aggregate type compare by
// sequence; otherwise by occurrence time and then event id, which gives a total order.
func (s FieldStamp) NewerThan(other FieldStamp) bool {
	if other.EventID.IsZero() {
		return true
	}
	if s.AggregateType == other.AggregateType && s.Sequence != other.Sequence {
		return s.Sequence > other.Sequence
	}
	if !s.OccurredAt.Equal(other.OccurredAt) {
		return s.OccurredAt.After(other.OccurredAt)
	}
	return s.EventID.String() > other.EventID.String()
}

// CaseProjection is the denormalized read model of a case and its work item.
// Any subset of fields may be populated.
type CaseProjection struct {
	CaseID             CaseID                `json:"case_id"`
	CaseNumber         string                `json:"case_number,omitempty"`
	CaseType           CaseType              `json:"case_type,omitempty"`
	PartnerID          string                `json:"partner_id,omitempty"`
	PartnerReferenceID string                `json:"partner_reference_id,omitempty"`
	DisplayName        string                `json:"display_name,omitempty"`
	CaseStatus         CaseStatus            `json:"case_status,omitempty"`
	ProgressPercentage int                   `json:"progress_percentage"`
	RiskLevel          RiskLevel             `json:"risk_level,omitempty"`
	SubmittedAt        *time.Time            `json:"submitted_at,omitempty"`
	DecidedAt          *time.Time            `json:"decided_at,omitempty"`
	DecidedBy          string                `json:"decided_by,omitempty"`
	DecisionReason     string                `json:"decision_reason,omitempty"`
	WorkItemID         string                `json:"work_item_id,omitempty"`
	WorkItemStatus     WorkItemStatus        `json:"work_item_status,omitempty"`
	AssignedTo         string                `json:"assigned_to,omitempty"`
	ApprovedBy         string                `json:"approved_by,omitempty"`
	RequiresApproval   bool                  `json:"requires_approval"`
	Escalated          bool                  `json:"escalated"`
	Priority           Priority              `json:"priority,omitempty"`
	DueDate            *time.Time            `json:"due_date,omitempty"`
	NextRefreshDate    *time.Time            `json:"next_refresh_date,omitempty"`
	RefreshCount       int                   `json:"refresh_count"`
	Stamps             map[string]FieldStamp `json:"stamps"`
	ProcessedEvents    []string              `json:"-"`
	RowVersion         int64                 `json:"row_version"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

func NewCaseProjection(id CaseID) *CaseProjection {
	return &CaseProjection{CaseID: id, Stamps: map[string]FieldStamp{}}
}

func (p *CaseProjection) HasProcessed(id EventID) bool {
	s := id.String()
	for _, e := range p.ProcessedEvents {
		if e == s {
			return true
		}
	}
	return false
}

func (p *CaseProjection) markProcessed(id EventID, limit int) {
	if limit <= 0 {
		limit = DefaultProcessedEventLimit
	}
	p.ProcessedEvents = append(p.ProcessedEvents, id.String())
	if n := len(p.ProcessedEvents); n > limit {
		p.ProcessedEvents = append([]string(nil), p.ProcessedEvents[n-limit:]...)
	}
}

// set runs write only when stamp is newer than the field's current stamp.
func (p *CaseProjection) set(field string, stamp FieldStamp, write func()) {
	if p.Stamps == nil {
		p.Stamps = map[string]FieldStamp{}
	}
	if cur, ok := p.Stamps[field]; ok && !stamp.NewerThan(cur) {
		return
	}
	write()
	p.Stamps[field] = stamp
}

// Apply folds one event into the projection. Applying an event id that was already
// recorded returns a DUPLICATE_EVENT error and leaves the row untouched.
func (p *CaseProjection) Apply(evt Event, processedLimit int, now time.Time) error {
	m := evt.Meta()
	if p.HasProcessed(m.EventID) {
		return apierror.DuplicateEvent(m.EventID.String())
	}
	st := StampOf(evt)
	at := m.OccurredAt

	switch e := evt.(type) {
	case *CaseCreated:
		p.applySnapshot(st, e.CaseSnapshot)
		p.set(FieldCaseStatus, st, func() { p.CaseStatus = CaseStatusDraft })
	case *CaseDetailsUpdated:
		p.set(FieldDisplayName, st, func() { p.DisplayName = e.DisplayName })
		p.set(FieldProgress, st, func() { p.ProgressPercentage = e.ProgressPercentage })
	case *CaseSubmitted:
		p.applySnapshot(st, e.CaseSnapshot)
		p.set(FieldCaseStatus, st, func() { p.CaseStatus = CaseStatusSubmitted })
		p.set(FieldSubmittedAt, st, func() { t := e.SubmittedAt; p.SubmittedAt = &t })
		if e.RiskLevel.IsAssessed() {
			p.set(FieldRiskLevel, st, func() { p.RiskLevel = e.RiskLevel })
		}
	case *CaseMovedToReview:
		p.set(FieldCaseStatus, st, func() { p.CaseStatus = CaseStatusPendingReview })
	case *CaseApproved:
		p.set(FieldCaseStatus, st, func() { p.CaseStatus = CaseStatusApproved })
		p.set(FieldDecision, st, func() { p.DecidedAt, p.DecidedBy, p.DecisionReason = &at, e.ApprovedBy, "" })
	case *CaseRejected:
		p.set(FieldCaseStatus, st, func() { p.CaseStatus = CaseStatusRejected })
		p.set(FieldDecision, st, func() { p.DecidedAt, p.DecidedBy, p.DecisionReason = &at, e.RejectedBy, e.Reason })
	case *CaseCancelled:
		p.set(FieldCaseStatus, st, func() { p.CaseStatus = CaseStatusCancelled })
		p.set(FieldDecision, st, func() { p.DecidedAt, p.DecidedBy, p.DecisionReason = &at, "", e.Reason })
	case *RiskAssessed:
		p.set(FieldRiskLevel, st, func() { p.RiskLevel = e.RiskLevel })
	case *WorkItemCreated:
		p.set(FieldWorkItem, st, func() { p.WorkItemID = e.WorkItemID.String() })
		p.set(FieldWorkItemStatus, st, func() { p.WorkItemStatus = WorkItemStatusNew })
		p.set(FieldRiskLevel, st, func() { p.RiskLevel = e.RiskLevel })
		p.set(FieldPriority, st, func() { p.Priority = e.Priority })
		p.set(FieldRequiresApproval, st, func() { p.RequiresApproval = e.RequiresApproval })
		p.set(FieldDueDate, st, func() { p.DueDate = e.DueDate })
	case *WorkItemAssigned:
		p.set(FieldWorkItemStatus, st, func() { p.WorkItemStatus = WorkItemStatusAssigned })
		p.set(FieldAssignedTo, st, func() { p.AssignedTo = e.ReviewerID })
	case *WorkItemReviewStarted:
		p.set(FieldWorkItemStatus, st, func() { p.WorkItemStatus = WorkItemStatusInReview })
	case *WorkItemSubmittedForApproval:
		p.set(FieldWorkItemStatus, st, func() { p.WorkItemStatus = WorkItemStatusPendingApproval })
	case *WorkItemApproved:
		p.set(FieldWorkItemStatus, st, func() { p.WorkItemStatus = WorkItemStatusApproved })
		p.set(FieldApprovedBy, st, func() { p.ApprovedBy = e.ApprovedBy })
	case *WorkItemCompleted:
		p.set(FieldWorkItemStatus, st, func() { p.WorkItemStatus = WorkItemStatusCompleted })
		p.set(FieldNextRefreshDate, st, func() { t := e.NextRefreshDate; p.NextRefreshDate = &t })
	case *WorkItemDeclined:
		p.set(FieldWorkItemStatus, st, func() { p.WorkItemStatus = WorkItemStatusDeclined })
	case *WorkItemEscalated:
		p.set(FieldEscalated, st, func() { p.Escalated = true })
		p.set(FieldRequiresApproval, st, func() { p.RequiresApproval = true })
	case *WorkItemReopened:
		p.set(FieldWorkItemStatus, st, func() { p.WorkItemStatus = WorkItemStatusNew })
		p.set(FieldDueDate, st, func() { t := e.DueDate; p.DueDate = &t })
		p.clearCycle(st)
	case *WorkItemRiskUpdated:
		p.set(FieldRiskLevel, st, func() { p.RiskLevel = e.RiskLevel })
		p.set(FieldPriority, st, func() { p.Priority = e.Priority })
		p.set(FieldRequiresApproval, st, func() { p.RequiresApproval = e.RequiresApproval })
		if e.ReturnedToReview {
			p.set(FieldWorkItemStatus, st, func() { p.WorkItemStatus = WorkItemStatusInReview })
		}
	case *WorkItemDueDateSet:
		p.set(FieldDueDate, st, func() { t := e.DueDate; p.DueDate = &t })
	case *WorkItemRefreshDue:
		p.set(FieldWorkItemStatus, st, func() { p.WorkItemStatus = WorkItemStatusDueForRefresh })
		p.set(FieldRefreshCount, st, func() { p.RefreshCount = e.RefreshCount })
		p.set(FieldDueDate, st, func() { t := e.DueDate; p.DueDate = &t })
		p.clearCycle(st)
	}

	p.markProcessed(m.EventID, processedLimit)
	p.UpdatedAt = now.UTC()
	return nil
}

func (p *CaseProjection) applySnapshot(st FieldStamp, s CaseSnapshot) {
	p.set(FieldCaseIdentity, st, func() {
		p.CaseNumber = s.CaseNumber
		p.CaseType = s.Type
		p.PartnerID = s.PartnerID
		p.PartnerReferenceID = s.PartnerReferenceID
	})
	p.set(FieldDisplayName, st, func() { p.DisplayName = s.DisplayName })
	p.set(FieldProgress, st, func() { p.ProgressPercentage = s.ProgressPercentage })
}

func (p *CaseProjection) clearCycle(st FieldStamp) {
	p.set(FieldAssignedTo, st, func() { p.AssignedTo = "" })
	p.set(FieldApprovedBy, st, func() { p.ApprovedBy = "" })
	p.set(FieldEscalated, st, func() { p.Escalated = false })
}

// ProjectionFilter narrows a case listing. Empty fields match everything.
type ProjectionFilter struct {
	PartnerID      string         `form:"partner_id"`
	CaseStatus     CaseStatus     `form:"case_status"`
	WorkItemStatus WorkItemStatus `form:"work_item_status"`
	RiskLevel      RiskLevel      `form:"risk_level"`
	AssignedTo     string         `form:"assigned_to"`
	Limit          int            `form:"limit"`
	Offset         int            `form:"offset"`
}

// Dashboard aggregates case projections for one partner, or all partners when PartnerID is empty.
type Dashboard struct {
	PartnerID        string         `json:"partner_id,omitempty"`
	Total            int            `json:"total"`
	ByCaseStatus     map[string]int `json:"by_case_status"`
	ByWorkItemStatus map[string]int `json:"by_work_item_status"`
	ByRiskLevel      map[string]int `json:"by_risk_level"`
	Overdue          int            `json:"overdue"`
}
