package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/blnkfinance/onboarding/internal/apierror"
	"github.com/blnkfinance/onboarding/model"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// activeStatuses are the work item statuses that count against a reviewer's capacity.
var activeStatuses = []string{
	string(model.WorkItemStatusAssigned),
	string(model.WorkItemStatusInReview),
	string(model.WorkItemStatusPendingApproval),
	string(model.WorkItemStatusApproved),
}

func (d Datasource) CreateReviewer(ctx context.Context, r model.Reviewer) (model.Reviewer, error) {
	if strings.TrimSpace(r.ReviewerID) == "" {
		return model.Reviewer{}, apierror.Validation("reviewer id is required")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO onboarding.reviewers (reviewer_id, display_name, max_risk_level, can_approve, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ReviewerID, r.DisplayName, string(r.MaxRiskLevel), r.CanApprove, r.Active, r.CreatedAt)
	if err != nil {
		return model.Reviewer{}, mapError(err, "failed to create reviewer")
	}
	return r, nil
}

func (d Datasource) GetReviewer(ctx context.Context, id string) (*model.Reviewer, error) {
	var (
		r       model.Reviewer
		maxRisk string
	)
	err := d.Conn.QueryRowContext(ctx, `
		SELECT reviewer_id, display_name, max_risk_level, can_approve, active, created_at
		FROM onboarding.reviewers
		WHERE reviewer_id = $1
	`, id).Scan(&r.ReviewerID, &r.DisplayName, &maxRisk, &r.CanApprove, &r.Active, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NotFound("reviewer %s not found", id)
	}
	if err != nil {
		return nil, mapError(err, "failed to retrieve reviewer")
	}
	r.MaxRiskLevel = model.RiskLevel(maxRisk)
	return &r, nil
}

// ListReviewerWorkloads returns every reviewer with the counts the assignment advisor ranks on.
// Overdue uses the same rule as WorkItem.IsOverdue.
func (d Datasource) ListReviewerWorkloads(ctx context.Context, now time.Time, sla time.Duration) ([]model.ReviewerWorkload, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT r.reviewer_id, r.display_name, r.max_risk_level, r.can_approve, r.active, r.created_at,
			COUNT(w.work_item_id) FILTER (WHERE w.status = ANY($1)) AS active_count,
			COUNT(w.work_item_id) FILTER (
				WHERE w.status = ANY($2)
				  AND COALESCE(w.due_date, w.created_at + ($3 * INTERVAL '1 second')) < $4
			) AS overdue_count,
			MAX(w.assigned_at) AS last_assigned_at
		FROM onboarding.reviewers r
		LEFT JOIN onboarding.work_items w ON w.assigned_to = r.reviewer_id
		GROUP BY r.reviewer_id, r.display_name, r.max_risk_level, r.can_approve, r.active, r.created_at
		ORDER BY r.reviewer_id
	`, pq.Array(activeStatuses), pq.Array(openStatuses()), int64(sla.Seconds()), now)
	if err != nil {
		return nil, mapError(err, "failed to list reviewer workloads")
	}
	defer rows.Close()

	out := []model.ReviewerWorkload{}
	for rows.Next() {
		var (
			wl      model.ReviewerWorkload
			maxRisk string
		)
		if err := rows.Scan(&wl.ReviewerID, &wl.DisplayName, &maxRisk, &wl.CanApprove, &wl.Active, &wl.CreatedAt,
			&wl.ActiveCount, &wl.OverdueCount, &wl.LastAssignedAt); err != nil {
			return nil, mapError(err, "failed to scan reviewer workload")
		}
		wl.MaxRiskLevel = model.RiskLevel(maxRisk)
		out = append(out, wl)
	}
	return out, mapError(rows.Err(), "failed to list reviewer workloads")
}
