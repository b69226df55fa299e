package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/blnkfinance/onboarding/internal/apierror"
	"github.com/blnkfinance/onboarding/model"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const workItemColumns = `work_item_id, case_id, status, risk_level, risk_assessed_at, manually_escalated,
	escalation_reason, priority, assigned_to, assigned_at, approved_by, approved_at, completed_at, decline_reason,
	due_date, next_refresh_date, refresh_count, created_at, updated_at, version`

// CreateWorkItem fails with CONFLICT when the case already has a work item.
func (d Datasource) CreateWorkItem(ctx context.Context, w *model.WorkItem, events []model.Event) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO onboarding.work_items (`+workItemColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		`, workItemArgs(w)...)
		if err != nil {
			return mapError(err, "failed to create work item")
		}
		return d.insertOutboxEvents(ctx, tx, events)
	})
}

func workItemArgs(w *model.WorkItem) []interface{} {
	return []interface{}{
		w.ID.String(), w.CaseID.String(), string(w.Status), string(w.RiskLevel), w.RiskAssessedAt,
		w.ManuallyEscalated, w.EscalationReason, int(w.Priority), w.AssignedTo, w.AssignedAt, w.ApprovedBy,
		w.ApprovedAt, w.CompletedAt, w.DeclineReason, w.DueDate, w.NextRefreshDate, w.RefreshCount, w.CreatedAt,
		w.UpdatedAt, w.Version,
	}
}

func (d Datasource) GetWorkItem(ctx context.Context, id model.WorkItemID) (*model.WorkItem, error) {
	return d.getWorkItem(ctx, `work_item_id = $1`, id.String())
}

func (d Datasource) GetWorkItemByCase(ctx context.Context, caseID model.CaseID) (*model.WorkItem, error) {
	return d.getWorkItem(ctx, `case_id = $1`, caseID.String())
}

func (d Datasource) getWorkItem(ctx context.Context, where string, arg string) (*model.WorkItem, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+workItemColumns+` FROM onboarding.work_items WHERE `+where, arg)
	state, err := scanWorkItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NotFound("work item for %s not found", arg)
	}
	if err != nil {
		return nil, mapError(err, "failed to retrieve work item")
	}
	cycles, err := d.listCycles(ctx, state.ID)
	if err != nil {
		return nil, err
	}
	return model.RestoreWorkItem(state, cycles), nil
}

func (d Datasource) listCycles(ctx context.Context, id model.WorkItemID) ([]model.ReviewCycle, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT number, outcome, risk_level, reviewer_id, approved_by, decline_reason, assigned_at, closed_at
		FROM onboarding.work_item_cycles
		WHERE work_item_id = $1
		ORDER BY number
	`, id.String())
	if err != nil {
		return nil, mapError(err, "failed to retrieve review cycles")
	}
	defer rows.Close()

	var cycles []model.ReviewCycle
	for rows.Next() {
		var (
			c                 model.ReviewCycle
			outcome, riskLvl string
		)
		if err := rows.Scan(&c.Number, &outcome, &riskLvl, &c.ReviewerID, &c.ApprovedBy, &c.DeclineReason,
			&c.AssignedAt, &c.ClosedAt); err != nil {
			return nil, mapError(err, "failed to scan review cycle")
		}
		c.Outcome = model.WorkItemStatus(outcome)
		c.RiskLevel = model.RiskLevel(riskLvl)
		cycles = append(cycles, c)
	}
	return cycles, mapError(rows.Err(), "failed to retrieve review cycles")
}

// UpdateWorkItem saves w, the review cycles it archived since loading, and its events.
func (d Datasource) UpdateWorkItem(ctx context.Context, w *model.WorkItem, events []model.Event) error {
	expected := w.Version - int64(len(events))
	cycles := w.TakeNewCycles()
	return d.withTx(ctx, func(tx *sql.Tx) error {
		args := append(workItemArgs(w)[2:], w.ID.String(), expected)
		res, err := tx.ExecContext(ctx, `
			UPDATE onboarding.work_items SET
				status = $1, risk_level = $2, risk_assessed_at = $3, manually_escalated = $4,
				escalation_reason = $5, priority = $6, assigned_to = $7, assigned_at = $8, approved_by = $9,
				approved_at = $10, completed_at = $11, decline_reason = $12, due_date = $13,
				next_refresh_date = $14, refresh_count = $15, created_at = $16, updated_at = $17, version = $18
			WHERE work_item_id = $19 AND version = $20
		`, args...)
		if err != nil {
			return mapError(err, "failed to update work item")
		}
		if err := d.checkVersioned(ctx, tx, res, "work_items", "work_item_id", w.ID.String()); err != nil {
			return err
		}
		for _, c := range cycles {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO onboarding.work_item_cycles
					(work_item_id, number, outcome, risk_level, reviewer_id, approved_by, decline_reason, assigned_at, closed_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`, w.ID.String(), c.Number, string(c.Outcome), string(c.RiskLevel), c.ReviewerID, c.ApprovedBy,
				c.DeclineReason, c.AssignedAt, c.ClosedAt)
			if err != nil {
				return mapError(err, "failed to archive review cycle")
			}
		}
		return d.insertOutboxEvents(ctx, tx, events)
	})
}

// ListOverdueWorkItems returns open items past their due date, oldest first. Cycles are not loaded.
func (d Datasource) ListOverdueWorkItems(ctx context.Context, now time.Time, sla time.Duration, limit int) ([]*model.WorkItem, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+workItemColumns+`
		FROM onboarding.work_items
		WHERE status = ANY($1)
		  AND COALESCE(due_date, created_at + ($2 * INTERVAL '1 second')) < $3
		ORDER BY COALESCE(due_date, created_at + ($2 * INTERVAL '1 second')), work_item_id
		LIMIT $4
	`, pq.Array(openStatuses()), int64(sla.Seconds()), now, limit)
	if err != nil {
		return nil, mapError(err, "failed to list overdue work items")
	}
	defer rows.Close()

	var items []*model.WorkItem
	for rows.Next() {
		state, err := scanWorkItem(rows)
		if err != nil {
			return nil, mapError(err, "failed to scan work item")
		}
		w := model.RestoreWorkItem(state, nil)
		if w.IsOverdue(now, sla) {
			items = append(items, w)
		}
	}
	return items, mapError(rows.Err(), "failed to list overdue work items")
}

// ListDueForRefresh returns completed items whose refresh date has been reached.
func (d Datasource) ListDueForRefresh(ctx context.Context, now time.Time, limit int) ([]model.WorkItemID, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT work_item_id
		FROM onboarding.work_items
		WHERE status = $1 AND next_refresh_date <= $2
		ORDER BY next_refresh_date
		LIMIT $3
	`, string(model.WorkItemStatusCompleted), now, limit)
	if err != nil {
		return nil, mapError(err, "failed to list work items due for refresh")
	}
	defer rows.Close()

	var ids []model.WorkItemID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, mapError(err, "failed to scan work item id")
		}
		id, err := model.ParseWorkItemID(raw)
		if err != nil {
			return nil, mapError(err, "corrupt work item id")
		}
		ids = append(ids, id)
	}
	return ids, mapError(rows.Err(), "failed to list work items due for refresh")
}

func openStatuses() []string {
	out := make([]string, len(model.OpenStatuses))
	for i, s := range model.OpenStatuses {
		out[i] = string(s)
	}
	return out
}

func scanWorkItem(s scanner) (model.WorkItem, error) {
	var (
		w                 model.WorkItem
		id, caseID        string
		status, riskLevel string
		priority          int
	)
	err := s.Scan(&id, &caseID, &status, &riskLevel, &w.RiskAssessedAt, &w.ManuallyEscalated, &w.EscalationReason,
		&priority, &w.AssignedTo, &w.AssignedAt, &w.ApprovedBy, &w.ApprovedAt, &w.CompletedAt, &w.DeclineReason,
		&w.DueDate, &w.NextRefreshDate, &w.RefreshCount, &w.CreatedAt, &w.UpdatedAt, &w.Version)
	if err != nil {
		return w, err
	}
	if w.ID, err = model.ParseWorkItemID(id); err != nil {
		return w, err
	}
	if w.CaseID, err = model.ParseCaseID(caseID); err != nil {
		return w, err
	}
	w.Status = model.WorkItemStatus(status)
	w.RiskLevel = model.RiskLevel(riskLevel)
	w.Priority = model.Priority(priority)
	return w, nil
}
