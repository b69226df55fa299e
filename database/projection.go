package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/blnkfinance/onboarding/internal/apierror"
	"github.com/blnkfinance/onboarding/model"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func (d Datasource) GetProjection(ctx context.Context, caseID model.CaseID) (*model.CaseProjection, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT data, processed_events, row_version
		FROM onboarding.case_projections
		WHERE case_id = $1
	`, caseID.String())
	p, err := scanProjection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NotFound("projection for case %s not found", caseID)
	}
	if err != nil {
		return nil, mapError(err, "failed to retrieve projection")
	}
	return p, nil
}

// SaveProjection inserts a new row (RowVersion 0) or updates the row at p.RowVersion.
// A concurrent writer makes it fail with CONCURRENCY_CONFLICT; callers reload and reapply.
func (d Datasource) SaveProjection(ctx context.Context, p *model.CaseProjection) error {
	next := p.RowVersion + 1
	data, err := json.Marshal(p)
	if err != nil {
		return apierror.Wrap(apierror.ErrInternalServer, "failed to encode projection", err)
	}

	if p.RowVersion == 0 {
		_, err = d.Conn.ExecContext(ctx, `
			INSERT INTO onboarding.case_projections
				(case_id, partner_id, case_status, work_item_status, risk_level, assigned_to, due_date,
				 data, processed_events, row_version, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, p.CaseID.String(), p.PartnerID, string(p.CaseStatus), string(p.WorkItemStatus), string(p.RiskLevel),
			p.AssignedTo, p.DueDate, data, pq.Array(p.ProcessedEvents), next, p.UpdatedAt)
		if err != nil {
			if apierror.Is(mapError(err, ""), apierror.ErrConflict) {
				return apierror.ConcurrencyConflict("projection for case %s was created concurrently", p.CaseID)
			}
			return mapError(err, "failed to insert projection")
		}
		p.RowVersion = next
		return nil
	}

	res, err := d.Conn.ExecContext(ctx, `
		UPDATE onboarding.case_projections SET
			partner_id = $2, case_status = $3, work_item_status = $4, risk_level = $5, assigned_to = $6,
			due_date = $7, data = $8, processed_events = $9, row_version = $10, updated_at = $11
		WHERE case_id = $1 AND row_version = $12
	`, p.CaseID.String(), p.PartnerID, string(p.CaseStatus), string(p.WorkItemStatus), string(p.RiskLevel),
		p.AssignedTo, p.DueDate, data, pq.Array(p.ProcessedEvents), next, p.UpdatedAt, p.RowVersion)
	if err != nil {
		return mapError(err, "failed to update projection")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err, "failed to update projection")
	}
	if n == 0 {
		return apierror.ConcurrencyConflict("projection for case %s was modified concurrently", p.CaseID)
	}
	p.RowVersion = next
	return nil
}

func (d Datasource) DeleteProjection(ctx context.Context, caseID model.CaseID) error {
	_, err := d.Conn.ExecContext(ctx, `DELETE FROM onboarding.case_projections WHERE case_id = $1`, caseID.String())
	return mapError(err, "failed to delete projection")
}

func (d Datasource) ListProjections(ctx context.Context, filter model.ProjectionFilter) ([]*model.CaseProjection, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("partner_id", filter.PartnerID)
	add("case_status", string(filter.CaseStatus))
	add("work_item_status", string(filter.WorkItemStatus))
	add("risk_level", string(filter.RiskLevel))
	add("assigned_to", filter.AssignedTo)

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT data, processed_events, row_version FROM onboarding.case_projections`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(` ORDER BY updated_at DESC, case_id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "failed to list projections")
	}
	defer rows.Close()

	out := []*model.CaseProjection{}
	for rows.Next() {
		p, err := scanProjection(rows)
		if err != nil {
			return nil, mapError(err, "failed to scan projection")
		}
		out = append(out, p)
	}
	return out, mapError(rows.Err(), "failed to list projections")
}

// GetDashboard counts projections by status and risk. An empty partnerID covers all partners.
func (d Datasource) GetDashboard(ctx context.Context, partnerID string, now time.Time) (*model.Dashboard, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT case_status, work_item_status, risk_level, COUNT(*),
			COUNT(*) FILTER (WHERE work_item_status = ANY($2) AND due_date < $3)
		FROM onboarding.case_projections
		WHERE ($1 = '' OR partner_id = $1)
		GROUP BY case_status, work_item_status, risk_level
	`, partnerID, pq.Array(openStatuses()), now)
	if err != nil {
		return nil, mapError(err, "failed to build dashboard")
	}
	defer rows.Close()

	dash := &model.Dashboard{
		PartnerID:        partnerID,
		ByCaseStatus:     map[string]int{},
		ByWorkItemStatus: map[string]int{},
		ByRiskLevel:      map[string]int{},
	}
	for rows.Next() {
		var (
			caseStatus, wiStatus, risk string
			count, overdue             int
		)
		if err := rows.Scan(&caseStatus, &wiStatus, &risk, &count, &overdue); err != nil {
			return nil, mapError(err, "failed to scan dashboard row")
		}
		dash.Total += count
		dash.Overdue += overdue
		if caseStatus != "" {
			dash.ByCaseStatus[caseStatus] += count
		}
		if wiStatus != "" {
			dash.ByWorkItemStatus[wiStatus] += count
		}
		if risk != "" {
			dash.ByRiskLevel[risk] += count
		}
	}
	return dash, mapError(rows.Err(), "failed to build dashboard")
}

func scanProjection(s scanner) (*model.CaseProjection, error) {
	var (
		data       []byte
		processed  []string
		rowVersion int64
	)
	if err := s.Scan(&data, pq.Array(&processed), &rowVersion); err != nil {
		return nil, err
	}
	p := &model.CaseProjection{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, err
	}
	if p.Stamps == nil {
		p.Stamps = map[string]model.FieldStamp{}
	}
	p.ProcessedEvents = processed
	p.RowVersion = rowVersion
	return p, nil
}
