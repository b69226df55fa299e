package onboarding

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/onboarding/internal/apierror"
	"github.com/blnkfinance/onboarding/model"
)

// CreateReviewer registers a reviewer. A reviewer without a clearance level is cleared up to
// the default risk level.
func (o *Onboarding) CreateReviewer(ctx context.Context, r model.Reviewer) (model.Reviewer, error) {
	ctx, span := tracer.Start(ctx, "CreateReviewer")
	defer span.End()

	r.ReviewerID = strings.TrimSpace(r.ReviewerID)
	if r.ReviewerID == "" {
		return model.Reviewer{}, apierror.Validation("reviewer id is required")
	}
	if r.MaxRiskLevel == "" {
		r.MaxRiskLevel = model.DefaultRiskLevel
	}
	level, err := model.ParseRiskLevel(string(r.MaxRiskLevel))
	if err != nil {
		return model.Reviewer{}, apierror.Validation("%v", err)
	}
	r.MaxRiskLevel = level
	r.CreatedAt = o.now()

	created, err := o.datasource.CreateReviewer(ctx, r)
	if err != nil {
		span.RecordError(err)
		return model.Reviewer{}, err
	}
	logrus.WithFields(logrus.Fields{
		"reviewer_id":    created.ReviewerID,
		"max_risk_level": string(created.MaxRiskLevel),
		"can_approve":    created.CanApprove,
	}).Info("reviewer created")
	return created, nil
}

func (o *Onboarding) GetReviewer(ctx context.Context, id string) (*model.Reviewer, error) {
	return o.datasource.GetReviewer(ctx, id)
}
