package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/blnkfinance/onboarding/internal/apierror"
	"github.com/blnkfinance/onboarding/model"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateReviewer(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	r := model.Reviewer{ReviewerID: "rev-1", DisplayName: gofakeit.Name(), MaxRiskLevel: model.RiskHigh, CanApprove: true, Active: true}

	mock.ExpectExec("INSERT INTO onboarding.reviewers").
		WithArgs("rev-1", r.DisplayName, "HIGH", true, true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	created, err := ds.CreateReviewer(context.Background(), r)
	require.NoError(t, err)
	assert.False(t, created.CreatedAt.IsZero())

	_, err = ds.CreateReviewer(context.Background(), model.Reviewer{})
	assert.True(t, apierror.Is(err, apierror.ErrValidation))
}

func TestGetReviewer_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectQuery("FROM onboarding.reviewers").WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"reviewer_id", "display_name", "max_risk_level", "can_approve", "active", "created_at"}))

	_, err = ds.GetReviewer(context.Background(), "ghost")
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func TestListReviewerWorkloads(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	now := time.Now().UTC()
	last := now.Add(-2 * time.Hour)

	rows := sqlmock.NewRows([]string{
		"reviewer_id", "display_name", "max_risk_level", "can_approve", "active", "created_at",
		"active_count", "overdue_count", "last_assigned_at",
	}).
		AddRow("rev-1", "Ada", "CRITICAL", true, true, now, 3, 1, last).
		AddRow("rev-2", "Grace", "MEDIUM", false, true, now, 0, 0, nil)

	mock.ExpectQuery("LEFT JOIN onboarding.work_items w ON w.assigned_to = r.reviewer_id").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), int64(testSLA.Seconds()), now).
		WillReturnRows(rows)

	out, err := ds.ListReviewerWorkloads(context.Background(), now, testSLA)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, model.RiskCritical, out[0].MaxRiskLevel)
	assert.Equal(t, 3, out[0].ActiveCount)
	assert.Equal(t, 1, out[0].OverdueCount)
	require.NotNil(t, out[0].LastAssignedAt)
	assert.Nil(t, out[1].LastAssignedAt)
}
