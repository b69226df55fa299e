package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/blnkfinance/onboarding/model"
)

func TestValidateCreateCase(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateCase
		wantErr bool
	}{
		{name: "Valid individual", req: CreateCase{Type: "INDIVIDUAL", PartnerID: "partner-1"}},
		{name: "Lower case type", req: CreateCase{Type: "corporate", PartnerID: "partner-1"}},
		{name: "Missing partner", req: CreateCase{Type: "TRUST"}, wantErr: true},
		{name: "Unknown type", req: CreateCase{Type: "SOLE_TRADER", PartnerID: "partner-1"}, wantErr: true},
		{name: "Missing type", req: CreateCase{PartnerID: "partner-1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.ValidateCreateCase()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCreateCaseType(t *testing.T) {
	req := CreateCase{Type: " corporate "}
	assert.Equal(t, model.CaseTypeCorporate, req.CaseType())
}

func TestValidateRecordRiskAssessment(t *testing.T) {
	valid := RecordRiskAssessment{RiskLevel: "HIGH", Score: "72", Source: "scorecard", AssessedAt: time.Now()}
	assert.NoError(t, valid.ValidateRecordRiskAssessment())

	unknown := valid
	unknown.RiskLevel = "SEVERE"
	assert.Error(t, unknown.ValidateRecordRiskAssessment())

	noSource := valid
	noSource.Source = ""
	assert.Error(t, noSource.ValidateRecordRiskAssessment())
}

func TestValidateReason(t *testing.T) {
	assert.Error(t, (&Reason{}).ValidateReason())
	assert.NoError(t, (&Reason{Reason: "documents expired"}).ValidateReason())
}

func TestCreateReviewerToReviewer(t *testing.T) {
	req := CreateReviewer{ReviewerID: "rev-1", DisplayName: "Ada", MaxRiskLevel: "high", CanApprove: true}
	assert.NoError(t, req.ValidateCreateReviewer())

	r := req.ToReviewer()
	assert.Equal(t, model.RiskHigh, r.MaxRiskLevel)
	assert.True(t, r.Active)
	assert.True(t, r.CanApprove)

	assert.Error(t, (&CreateReviewer{ReviewerID: "rev-2"}).ValidateCreateReviewer())
}
