package model

import "time"

// Reviewer is a person who can be assigned work items.
type Reviewer struct {
	ReviewerID   string    `json:"reviewer_id"`
	DisplayName  string    `json:"display_name"`
	MaxRiskLevel RiskLevel `json:"max_risk_level"`
	CanApprove   bool      `json:"can_approve"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// ReviewerWorkload is a reviewer together with their current queue figures.
type ReviewerWorkload struct {
	Reviewer
	ActiveCount    int        `json:"active_count"`
	OverdueCount   int        `json:"overdue_count"`
	LastAssignedAt *time.Time `json:"last_assigned_at,omitempty"`
}

type ReviewerSuggestion struct {
	ReviewerID     string     `json:"reviewer_id"`
	DisplayName    string     `json:"display_name"`
	ActiveCount    int        `json:"active_count"`
	OverdueCount   int        `json:"overdue_count"`
	LastAssignedAt *time.Time `json:"last_assigned_at,omitempty"`
}

// AuditEntry is what the audit sink receives after a committed transition.
type AuditEntry struct {
	EventID    string                 `json:"event_id"`
	EventType  string                 `json:"event_type"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Action     string                 `json:"action"`
	Actor      string                 `json:"actor,omitempty"`
	OldValues  map[string]interface{} `json:"old_values,omitempty"`
	NewValues  map[string]interface{} `json:"new_values,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

const (
	NotificationCaseApproved     = "case_approved"
	NotificationCaseRejected     = "case_rejected"
	NotificationWorkItemDeclined = "work_item_declined"
)

// NotificationTrigger asks the notification service to contact a party about a case.
type NotificationTrigger struct {
	Type          string `json:"type"`
	RecipientHint string `json:"recipient_hint"`
	CaseID        string `json:"case_id"`
	EventID       string `json:"event_id"`
}
