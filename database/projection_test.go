package database

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/blnkfinance/onboarding/internal/apierror"
	"github.com/blnkfinance/onboarding/model"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveProjection_InsertsNewRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := model.NewCaseProjection(model.NewCaseID())
	p.PartnerID = "partner-1"
	p.CaseStatus = model.CaseStatusSubmitted
	p.ProcessedEvents = []string{"e1"}

	mock.ExpectExec("INSERT INTO onboarding.case_projections").
		WithArgs(p.CaseID.String(), "partner-1", "SUBMITTED", "", "", "", nil, sqlmock.AnyArg(), "{\"e1\"}", int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, ds.SaveProjection(context.Background(), p))
	assert.Equal(t, int64(1), p.RowVersion)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveProjection_ConcurrentInsertIsConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := model.NewCaseProjection(model.NewCaseID())

	mock.ExpectExec("INSERT INTO onboarding.case_projections").WillReturnError(&pq.Error{Code: "23505"})

	err = ds.SaveProjection(context.Background(), p)
	assert.True(t, apierror.Is(err, apierror.ErrConcurrencyConflict))
	assert.Equal(t, int64(0), p.RowVersion)
}

func TestSaveProjection_UpdateChecksRowVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := model.NewCaseProjection(model.NewCaseID())
	p.RowVersion = 4

	mock.ExpectExec("UPDATE onboarding.case_projections SET").
		WithArgs(p.CaseID.String(), "", "", "", "", "", nil, sqlmock.AnyArg(), nil, int64(5), sqlmock.AnyArg(), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, ds.SaveProjection(context.Background(), p))
	assert.Equal(t, int64(5), p.RowVersion)

	mock.ExpectExec("UPDATE onboarding.case_projections SET").WillReturnResult(sqlmock.NewResult(0, 0))
	err = ds.SaveProjection(context.Background(), p)
	assert.True(t, apierror.Is(err, apierror.ErrConcurrencyConflict))
	assert.Equal(t, int64(5), p.RowVersion, "row version unchanged on conflict")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProjection(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	stored := model.NewCaseProjection(model.NewCaseID())
	stored.CaseNumber = "OBC-20240301-00007"
	stored.WorkItemStatus = model.WorkItemStatusInReview
	stored.Stamps[model.FieldWorkItemStatus] = model.FieldStamp{EventID: model.NewEventID(), AggregateType: model.AggregateWorkItem, Sequence: 3}
	data, err := json.Marshal(stored)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT data, processed_events, row_version").
		WithArgs(stored.CaseID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"data", "processed_events", "row_version"}).AddRow(data, "{a,b}", int64(7)))

	p, err := ds.GetProjection(context.Background(), stored.CaseID)
	require.NoError(t, err)
	assert.Equal(t, stored.CaseID, p.CaseID)
	assert.Equal(t, "OBC-20240301-00007", p.CaseNumber)
	assert.Equal(t, []string{"a", "b"}, p.ProcessedEvents)
	assert.Equal(t, int64(7), p.RowVersion)
	assert.Equal(t, int64(3), p.Stamps[model.FieldWorkItemStatus].Sequence)
}

func TestGetProjection_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectQuery("SELECT data, processed_events, row_version").
		WillReturnRows(sqlmock.NewRows([]string{"data", "processed_events", "row_version"}))

	_, err = ds.GetProjection(context.Background(), model.NewCaseID())
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func TestListProjections_BuildsFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectQuery("WHERE partner_id = \\$1 AND case_status = \\$2 ORDER BY updated_at DESC, case_id LIMIT \\$3 OFFSET \\$4").
		WithArgs("partner-1", "PENDING_REVIEW", 100, 0).
		WillReturnRows(sqlmock.NewRows([]string{"data", "processed_events", "row_version"}))

	out, err := ds.ListProjections(context.Background(), model.ProjectionFilter{
		PartnerID:  "partner-1",
		CaseStatus: model.CaseStatusPendingReview,
		Limit:      500,
	})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDashboard(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"case_status", "work_item_status", "risk_level", "count", "overdue"}).
		AddRow("PENDING_REVIEW", "IN_REVIEW", "HIGH", 3, 1).
		AddRow("PENDING_REVIEW", "ASSIGNED", "LOW", 2, 0).
		AddRow("DRAFT", "", "", 4, 0)
	mock.ExpectQuery("GROUP BY case_status, work_item_status, risk_level").
		WithArgs("partner-1", sqlmock.AnyArg(), now).
		WillReturnRows(rows)

	dash, err := ds.GetDashboard(context.Background(), "partner-1", now)
	require.NoError(t, err)
	assert.Equal(t, 9, dash.Total)
	assert.Equal(t, 1, dash.Overdue)
	assert.Equal(t, 5, dash.ByCaseStatus["PENDING_REVIEW"])
	assert.Equal(t, 4, dash.ByCaseStatus["DRAFT"])
	assert.Equal(t, 3, dash.ByRiskLevel["HIGH"])
	assert.Equal(t, 2, dash.ByWorkItemStatus["ASSIGNED"])
	_, hasBlank := dash.ByRiskLevel[""]
	assert.False(t, hasBlank)
}
