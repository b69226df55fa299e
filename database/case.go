package database

import (
	"context"
	"database/sql"

	"github.com/blnkfinance/onboarding/internal/apierror"
	"github.com/blnkfinance/onboarding/model"
	"github.com/pkg/errors"
)

const caseColumns = `case_id, case_number, case_type, partner_id, partner_reference_id, status, applicant, business,
	progress_percentage, risk_level, risk_assessed_at, decided_by, decision_reason, created_at, updated_at,
	submitted_at, approved_at, rejected_at, cancelled_at, version`

// NextCaseSequence draws the next number used in case numbers.
func (d Datasource) NextCaseSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := d.Conn.QueryRowContext(ctx, `SELECT nextval('onboarding.case_number_seq')`).Scan(&seq)
	if err != nil {
		return 0, mapError(err, "failed to allocate case number")
	}
	return seq, nil
}

func (d Datasource) CreateCase(ctx context.Context, c *model.Case, events []model.Event) error {
	applicant, business, err := caseDetails(c)
	if err != nil {
		return err
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO onboarding.cases (`+caseColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		`, c.ID.String(), c.CaseNumber, string(c.Type), c.PartnerID, c.PartnerReferenceID, string(c.Status),
			applicant, business, c.ProgressPercentage, string(c.RiskLevel), c.RiskAssessedAt, c.DecidedBy,
			c.DecisionReason, c.CreatedAt, c.UpdatedAt, c.SubmittedAt, c.ApprovedAt, c.RejectedAt, c.CancelledAt,
			c.Version)
		if err != nil {
			return mapError(err, "failed to create case")
		}
		return d.insertOutboxEvents(ctx, tx, events)
	})
}

func (d Datasource) GetCase(ctx context.Context, id model.CaseID) (*model.Case, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM onboarding.cases WHERE case_id = $1`, id.String())
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NotFound("case %s not found", id)
	}
	if err != nil {
		return nil, mapError(err, "failed to retrieve case")
	}
	return c, nil
}

// UpdateCase saves c and its events. The stored row must still be at the version c was
// loaded with, which is c.Version minus one per event.
func (d Datasource) UpdateCase(ctx context.Context, c *model.Case, events []model.Event) error {
	applicant, business, err := caseDetails(c)
	if err != nil {
		return err
	}
	expected := c.Version - int64(len(events))
	return d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE onboarding.cases SET
				status = $2, applicant = $3, business = $4, progress_percentage = $5, risk_level = $6,
				risk_assessed_at = $7, decided_by = $8, decision_reason = $9, updated_at = $10,
				submitted_at = $11, approved_at = $12, rejected_at = $13, cancelled_at = $14, version = $15
			WHERE case_id = $1 AND version = $16
		`, c.ID.String(), string(c.Status), applicant, business, c.ProgressPercentage, string(c.RiskLevel),
			c.RiskAssessedAt, c.DecidedBy, c.DecisionReason, c.UpdatedAt, c.SubmittedAt, c.ApprovedAt,
			c.RejectedAt, c.CancelledAt, c.Version, expected)
		if err != nil {
			return mapError(err, "failed to update case")
		}
		if err := d.checkVersioned(ctx, tx, res, "cases", "case_id", c.ID.String()); err != nil {
			return err
		}
		return d.insertOutboxEvents(ctx, tx, events)
	})
}

// checkVersioned turns a zero-row versioned update into NOT_FOUND or CONCURRENCY_CONFLICT.
func (d Datasource) checkVersioned(ctx context.Context, tx *sql.Tx, res sql.Result, table, key, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err, "failed to read update result")
	}
	if n > 0 {
		return nil
	}
	var exists bool
	err = tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM onboarding.`+table+` WHERE `+key+` = $1)`, id).Scan(&exists)
	if err != nil {
		return mapError(err, "failed to check row")
	}
	if !exists {
		return apierror.NotFound("%s %s not found", table, id)
	}
	return apierror.ConcurrencyConflict("%s %s was modified concurrently", table, id)
}

func caseDetails(c *model.Case) (interface{}, interface{}, error) {
	applicant, err := nullableJSON(c.Applicant, c.Applicant == nil)
	if err != nil {
		return nil, nil, apierror.Wrap(apierror.ErrInternalServer, "failed to encode applicant", err)
	}
	business, err := nullableJSON(c.Business, c.Business == nil)
	if err != nil {
		return nil, nil, apierror.Wrap(apierror.ErrInternalServer, "failed to encode business", err)
	}
	return applicant, business, nil
}

func scanCase(s scanner) (*model.Case, error) {
	var (
		c                   model.Case
		id                  string
		caseType, status    string
		riskLevel           string
		applicant, business []byte
	)
	err := s.Scan(&id, &c.CaseNumber, &caseType, &c.PartnerID, &c.PartnerReferenceID, &status, &applicant, &business,
		&c.ProgressPercentage, &riskLevel, &c.RiskAssessedAt, &c.DecidedBy, &c.DecisionReason, &c.CreatedAt,
		&c.UpdatedAt, &c.SubmittedAt, &c.ApprovedAt, &c.RejectedAt, &c.CancelledAt, &c.Version)
	if err != nil {
		return nil, err
	}
	if c.ID, err = model.ParseCaseID(id); err != nil {
		return nil, err
	}
	c.Type = model.CaseType(caseType)
	c.Status = model.CaseStatus(status)
	c.RiskLevel = model.RiskLevel(riskLevel)
	if len(applicant) > 0 && string(applicant) != "null" {
		c.Applicant = &model.ApplicantDetails{}
		if err := scanJSON(applicant, c.Applicant); err != nil {
			return nil, err
		}
	}
	if len(business) > 0 && string(business) != "null" {
		c.Business = &model.BusinessDetails{}
		if err := scanJSON(business, c.Business); err != nil {
			return nil, err
		}
	}
	return &c, nil
}
