package model

import (
	"strings"
	"time"

	"github.com/blnkfinance/onboarding/internal/apierror"
)

type WorkItemStatus string

const (
	WorkItemStatusNew             WorkItemStatus = "NEW"
	WorkItemStatusAssigned        WorkItemStatus = "ASSIGNED"
	WorkItemStatusInReview        WorkItemStatus = "IN_REVIEW"
	WorkItemStatusPendingApproval WorkItemStatus = "PENDING_APPROVAL"
	WorkItemStatusApproved        WorkItemStatus = "APPROVED"
	WorkItemStatusCompleted       WorkItemStatus = "COMPLETED"
	WorkItemStatusDeclined        WorkItemStatus = "DECLINED"
	WorkItemStatusDueForRefresh   WorkItemStatus = "DUE_FOR_REFRESH"
)

// OpenStatuses are the statuses subject to the review SLA.
var OpenStatuses = []WorkItemStatus{WorkItemStatusNew, WorkItemStatusAssigned, WorkItemStatusInReview, WorkItemStatusPendingApproval}

func (s WorkItemStatus) IsOpen() bool {
	for _, o := range OpenStatuses {
		if s == o {
			return true
		}
	}
	return false
}

func (s WorkItemStatus) IsTerminal() bool {
	return s == WorkItemStatusCompleted || s == WorkItemStatusDeclined
}

// ReviewCycle is the archived record of one finished review of a work item.
type ReviewCycle struct {
	Number        int            `json:"number"`
	Outcome       WorkItemStatus `json:"outcome"`
	RiskLevel     RiskLevel      `json:"risk_level"`
	ReviewerID    string         `json:"reviewer_id,omitempty"`
	ApprovedBy    string         `json:"approved_by,omitempty"`
	DeclineReason string         `json:"decline_reason,omitempty"`
	AssignedAt    *time.Time     `json:"assigned_at,omitempty"`
	ClosedAt      time.Time      `json:"closed_at"`
}

type WorkItem struct {
	ID                WorkItemID     `json:"work_item_id"`
	CaseID            CaseID         `json:"case_id"`
	Status            WorkItemStatus `json:"status"`
	RiskLevel         RiskLevel      `json:"risk_level"`
	RiskAssessedAt    *time.Time     `json:"risk_assessed_at,omitempty"`
	ManuallyEscalated bool           `json:"manually_escalated"`
	EscalationReason  string         `json:"escalation_reason,omitempty"`
	Priority          Priority       `json:"priority"`
	AssignedTo        string         `json:"assigned_to,omitempty"`
	AssignedAt        *time.Time     `json:"assigned_at,omitempty"`
	ApprovedBy        string         `json:"approved_by,omitempty"`
	ApprovedAt        *time.Time     `json:"approved_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	DeclineReason     string         `json:"decline_reason,omitempty"`
	DueDate           *time.Time     `json:"due_date,omitempty"`
	NextRefreshDate   *time.Time     `json:"next_refresh_date,omitempty"`
	RefreshCount      int            `json:"refresh_count"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	Version           int64          `json:"version"`

	cycles    []ReviewCycle
	newCycles []ReviewCycle
}

// RestoreWorkItem rebuilds a persisted work item together with its archived review cycles.
func RestoreWorkItem(state WorkItem, cycles []ReviewCycle) *WorkItem {
	w := state
	w.cycles = append([]ReviewCycle(nil), cycles...)
	w.newCycles = nil
	return &w
}

// NewWorkItem opens a review for a submitted case. An unassessed risk level defaults to medium.
func NewWorkItem(caseID CaseID, risk RiskLevel, assessedAt *time.Time, sla time.Duration, now time.Time) (*WorkItem, *WorkItemCreated) {
	due := now.UTC().Add(sla)
	w := &WorkItem{
		ID:             NewWorkItemID(),
		CaseID:         caseID,
		Status:         WorkItemStatusNew,
		RiskLevel:      risk.OrDefault(),
		RiskAssessedAt: assessedAt,
		Priority:       PriorityFor(risk),
		DueDate:        &due,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
		Version:        1,
	}
	return w, &WorkItemCreated{
		workItemBase:     newWorkItemBase(w, now),
		RiskLevel:        w.RiskLevel,
		Priority:         w.Priority,
		RequiresApproval: w.RequiresApproval(),
		DueDate:          w.DueDate,
	}
}

// RequiresApproval is true for high and critical risk or when a reviewer escalated the item.
func (w *WorkItem) RequiresApproval() bool {
	return w.ManuallyEscalated || w.RiskLevel.AtLeast(RiskHigh)
}

// IsOverdue is computed on read and never stored.
func (w *WorkItem) IsOverdue(now time.Time, sla time.Duration) bool {
	if !w.Status.IsOpen() {
		return false
	}
	due := w.CreatedAt.Add(sla)
	if w.DueDate != nil {
		due = *w.DueDate
	}
	return now.After(due)
}

func (w *WorkItem) Cycles() []ReviewCycle {
	return append([]ReviewCycle(nil), w.cycles...)
}

// TakeNewCycles returns the cycles archived since the item was loaded and forgets them.
func (w *WorkItem) TakeNewCycles() []ReviewCycle {
	out := w.newCycles
	w.newCycles = nil
	return out
}

func (w *WorkItem) requireStatus(action string, allowed ...WorkItemStatus) error {
	for _, s := range allowed {
		if w.Status == s {
			return nil
		}
	}
	return apierror.Validation("cannot %s work item %s in status %s", action, w.ID, w.Status)
}

func (w *WorkItem) bump(now time.Time) {
	w.Version++
	w.UpdatedAt = now.UTC()
}

func (w *WorkItem) archive(outcome WorkItemStatus, now time.Time) {
	c := ReviewCycle{
		Number:        len(w.cycles) + 1,
		Outcome:       outcome,
		RiskLevel:     w.RiskLevel,
		ReviewerID:    w.AssignedTo,
		ApprovedBy:    w.ApprovedBy,
		DeclineReason: w.DeclineReason,
		AssignedAt:    w.AssignedAt,
		ClosedAt:      now.UTC(),
	}
	w.cycles = append(w.cycles, c)
	w.newCycles = append(w.newCycles, c)
}

func (w *WorkItem) resetCycle(sla time.Duration, now time.Time) {
	due := now.UTC().Add(sla)
	w.AssignedTo = ""
	w.AssignedAt = nil
	w.ApprovedBy = ""
	w.ApprovedAt = nil
	w.CompletedAt = nil
	w.DeclineReason = ""
	w.ManuallyEscalated = false
	w.EscalationReason = ""
	w.DueDate = &due
}

// Assign is legal for new items and for items starting a refresh cycle.
func (w *WorkItem) Assign(reviewerID, by string, now time.Time) (*WorkItemAssigned, error) {
	if err := w.requireStatus("assign", WorkItemStatusNew, WorkItemStatusDueForRefresh); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reviewerID) == "" {
		return nil, apierror.Validation("reviewer is required")
	}
	at := now.UTC()
	w.Status = WorkItemStatusAssigned
	w.AssignedTo = reviewerID
	w.AssignedAt = &at
	w.bump(now)
	return &WorkItemAssigned{workItemBase: newWorkItemBase(w, now), ReviewerID: reviewerID, AssignedBy: by}, nil
}

func (w *WorkItem) StartReview(reviewerID string, now time.Time) (*WorkItemReviewStarted, error) {
	if err := w.requireStatus("start review of", WorkItemStatusAssigned); err != nil {
		return nil, err
	}
	if reviewerID != w.AssignedTo {
		return nil, apierror.Validation("work item %s is assigned to %s", w.ID, w.AssignedTo)
	}
	w.Status = WorkItemStatusInReview
	w.bump(now)
	return &WorkItemReviewStarted{workItemBase: newWorkItemBase(w, now), ReviewerID: reviewerID}, nil
}

func (w *WorkItem) SubmitForApproval(now time.Time) (*WorkItemSubmittedForApproval, error) {
	if err := w.requireStatus("submit for approval", WorkItemStatusInReview); err != nil {
		return nil, err
	}
	if !w.RequiresApproval() {
		return nil, apierror.Validation("work item %s does not require approval", w.ID)
	}
	w.Status = WorkItemStatusPendingApproval
	w.bump(now)
	return &WorkItemSubmittedForApproval{workItemBase: newWorkItemBase(w, now), ReviewerID: w.AssignedTo}, nil
}

// Approve records the second-person sign-off. The approver must differ from the reviewer.
func (w *WorkItem) Approve(approver string, now time.Time) (*WorkItemApproved, error) {
	if err := w.requireStatus("approve", WorkItemStatusPendingApproval); err != nil {
		return nil, err
	}
	if strings.TrimSpace(approver) == "" {
		return nil, apierror.Validation("approver is required")
	}
	if !w.RequiresApproval() {
		return nil, apierror.Validation("cannot approve: risk level does not require approval")
	}
	if approver == w.AssignedTo {
		return nil, apierror.Validation("approver must differ from the assigned reviewer")
	}
	at := now.UTC()
	w.Status = WorkItemStatusApproved
	w.ApprovedBy = approver
	w.ApprovedAt = &at
	w.bump(now)
	return &WorkItemApproved{workItemBase: newWorkItemBase(w, now), ApprovedBy: approver}, nil
}

// Complete closes the review and schedules the next refresh from the risk tier.
func (w *WorkItem) Complete(policy RefreshPolicy, now time.Time) (*WorkItemCompleted, error) {
	switch {
	case w.Status == WorkItemStatusApproved:
	case w.Status == WorkItemStatusInReview && !w.RequiresApproval():
	case w.Status == WorkItemStatusInReview:
		return nil, apierror.Validation("work item %s requires approval before completion", w.ID)
	default:
		return nil, w.requireStatus("complete", WorkItemStatusApproved, WorkItemStatusInReview)
	}
	at := now.UTC()
	next := at.Add(policy.Interval(w.RiskLevel))
	w.Status = WorkItemStatusCompleted
	w.CompletedAt = &at
	w.NextRefreshDate = &next
	w.bump(now)
	return &WorkItemCompleted{
		workItemBase:    newWorkItemBase(w, now),
		ReviewerID:      w.AssignedTo,
		ApprovedBy:      w.ApprovedBy,
		NextRefreshDate: next,
	}, nil
}

// Decline is allowed from any non-terminal status and needs a reason.
func (w *WorkItem) Decline(by, reason string, now time.Time) (*WorkItemDeclined, error) {
	if w.Status.IsTerminal() {
		return nil, apierror.Validation("cannot decline work item %s in status %s", w.ID, w.Status)
	}
	if strings.TrimSpace(reason) == "" {
		return nil, apierror.Validation("decline reason is required")
	}
	w.Status = WorkItemStatusDeclined
	w.DeclineReason = reason
	w.bump(now)
	return &WorkItemDeclined{workItemBase: newWorkItemBase(w, now), DeclinedBy: by, Reason: reason}, nil
}

func (w *WorkItem) Escalate(by, reason string, now time.Time) (*WorkItemEscalated, error) {
	if err := w.requireStatus("escalate", WorkItemStatusNew, WorkItemStatusAssigned, WorkItemStatusInReview); err != nil {
		return nil, err
	}
	if w.ManuallyEscalated {
		return nil, apierror.Validation("work item %s is already escalated", w.ID)
	}
	w.ManuallyEscalated = true
	w.EscalationReason = reason
	w.bump(now)
	return &WorkItemEscalated{workItemBase: newWorkItemBase(w, now), EscalatedBy: by, Reason: reason}, nil
}

// Reopen puts a declined item back in the queue and archives the declined cycle.
func (w *WorkItem) Reopen(by string, sla time.Duration, now time.Time) (*WorkItemReopened, error) {
	if err := w.requireStatus("reopen", WorkItemStatusDeclined); err != nil {
		return nil, err
	}
	w.archive(WorkItemStatusDeclined, now)
	w.resetCycle(sla, now)
	w.Status = WorkItemStatusNew
	w.bump(now)
	return &WorkItemReopened{workItemBase: newWorkItemBase(w, now), ReopenedBy: by, DueDate: *w.DueDate}, nil
}

// UpdateRisk applies a newer assessment. It returns a nil event when the assessment is stale
// or changes nothing. A pending approval that the new level no longer calls for goes back
// to review so the reviewer completes it directly.
func (w *WorkItem) UpdateRisk(level RiskLevel, assessedAt time.Time, now time.Time) (*WorkItemRiskUpdated, error) {
	if !level.IsAssessed() {
		return nil, apierror.Validation("unknown risk level %q", level)
	}
	if w.Status == WorkItemStatusApproved || w.Status == WorkItemStatusCompleted {
		return nil, apierror.Validation("cannot change risk of work item %s in status %s", w.ID, w.Status)
	}
	if w.RiskAssessedAt != nil && !assessedAt.After(*w.RiskAssessedAt) {
		return nil, nil
	}
	if w.RiskLevel == level {
		return nil, nil
	}
	at := assessedAt.UTC()
	w.RiskAssessedAt = &at
	w.RiskLevel = level
	w.Priority = PriorityFor(level)
	returned := w.Status == WorkItemStatusPendingApproval && !w.RequiresApproval()
	if returned {
		w.Status = WorkItemStatusInReview
	}
	w.bump(now)
	return &WorkItemRiskUpdated{
		workItemBase:     newWorkItemBase(w, now),
		RiskLevel:        level,
		Priority:         w.Priority,
		RequiresApproval: w.RequiresApproval(),
		ReturnedToReview: returned,
	}, nil
}

func (w *WorkItem) SetDueDate(due time.Time, now time.Time) (*WorkItemDueDateSet, error) {
	if !w.Status.IsOpen() {
		return nil, apierror.Validation("cannot set due date of work item %s in status %s", w.ID, w.Status)
	}
	d := due.UTC()
	w.DueDate = &d
	w.bump(now)
	return &WorkItemDueDateSet{workItemBase: newWorkItemBase(w, now), DueDate: d}, nil
}

// MarkDueForRefresh starts a re-verification cycle for a completed item. Unless forced,
// the refresh date must have been reached.
func (w *WorkItem) MarkDueForRefresh(forced bool, sla time.Duration, now time.Time) (*WorkItemRefreshDue, error) {
	if err := w.requireStatus("refresh", WorkItemStatusCompleted); err != nil {
		return nil, err
	}
	if !forced && (w.NextRefreshDate == nil || w.NextRefreshDate.After(now)) {
		return nil, apierror.Validation("work item %s is not due for refresh", w.ID)
	}
	w.archive(WorkItemStatusCompleted, now)
	w.resetCycle(sla, now)
	w.Status = WorkItemStatusDueForRefresh
	w.RefreshCount++
	w.bump(now)
	return &WorkItemRefreshDue{workItemBase: newWorkItemBase(w, now), RefreshCount: w.RefreshCount, Forced: forced, DueDate: *w.DueDate}, nil
}
