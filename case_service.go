package onboarding

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/blnkfinance/onboarding/internal/apierror"
	"github.com/blnkfinance/onboarding/model"
)

const entityCase = "case"

type CreateCaseRequest struct {
	Type               model.CaseType `json:"type"`
	PartnerID          string         `json:"partner_id"`
	PartnerReferenceID string         `json:"partner_reference_id"`
	Actor              string         `json:"-"`
}

// CreateCase opens a draft case with the next case number.
func (o *Onboarding) CreateCase(ctx context.Context, req CreateCaseRequest) (*model.Case, error) {
	ctx, span := tracer.Start(ctx, "CreateCase")
	defer span.End()

	if _, err := model.ParseCaseType(string(req.Type)); err != nil {
		return nil, apierror.Validation("%v", err)
	}
	if strings.TrimSpace(req.PartnerID) == "" {
		return nil, apierror.Validation("partner id is required")
	}

	seq, err := o.datasource.NextCaseSequence(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	now := o.now()
	c, evt, err := model.NewCase(req.Type, model.FormatCaseNumber(now, seq), req.PartnerID, req.PartnerReferenceID, now)
	if err != nil {
		return nil, err
	}
	if err := o.datasource.CreateCase(ctx, c, []model.Event{evt}); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.String("case.id", c.ID.String()), attribute.String("case.number", c.CaseNumber))
	logrus.WithFields(logrus.Fields{"case_id": c.ID.String(), "case_number": c.CaseNumber}).Info("case created")
	o.afterCommit(ctx, evt, entityCase, req.Actor, nil, caseValues(c))
	return c, nil
}

func (o *Onboarding) GetCase(ctx context.Context, id model.CaseID) (*model.Case, error) {
	return o.datasource.GetCase(ctx, id)
}

func (o *Onboarding) UpdateApplicant(ctx context.Context, id model.CaseID, details model.ApplicantDetails, actor string) (*model.Case, error) {
	return o.mutateCase(ctx, "UpdateApplicant", id, actor, func(c *model.Case, now time.Time) (model.Event, error) {
		evt, err := c.UpdateApplicant(details, now)
		if err != nil {
			return nil, err
		}
		return evt, nil
	})
}

func (o *Onboarding) UpdateBusiness(ctx context.Context, id model.CaseID, details model.BusinessDetails, actor string) (*model.Case, error) {
	return o.mutateCase(ctx, "UpdateBusiness", id, actor, func(c *model.Case, now time.Time) (model.Event, error) {
		evt, err := c.UpdateBusiness(details, now)
		if err != nil {
			return nil, err
		}
		return evt, nil
	})
}

func (o *Onboarding) SubmitCase(ctx context.Context, id model.CaseID, actor string) (*model.Case, error) {
	return o.mutateCase(ctx, "SubmitCase", id, actor, func(c *model.Case, now time.Time) (model.Event, error) {
		evt, err := c.Submit(now)
		if err != nil {
			return nil, err
		}
		return evt, nil
	})
}

func (o *Onboarding) MoveCaseToReview(ctx context.Context, id model.CaseID, actor string) (*model.Case, error) {
	return o.mutateCase(ctx, "MoveCaseToReview", id, actor, func(c *model.Case, now time.Time) (model.Event, error) {
		evt, err := c.MoveToReview(now)
		if err != nil {
			return nil, err
		}
		return evt, nil
	})
}

func (o *Onboarding) ApproveCase(ctx context.Context, id model.CaseID, actor string) (*model.Case, error) {
	return o.mutateCase(ctx, "ApproveCase", id, actor, func(c *model.Case, now time.Time) (model.Event, error) {
		evt, err := c.Approve(actor, now)
		if err != nil {
			return nil, err
		}
		return evt, nil
	})
}

func (o *Onboarding) RejectCase(ctx context.Context, id model.CaseID, actor, reason string) (*model.Case, error) {
	return o.mutateCase(ctx, "RejectCase", id, actor, func(c *model.Case, now time.Time) (model.Event, error) {
		evt, err := c.Reject(actor, reason, now)
		if err != nil {
			return nil, err
		}
		return evt, nil
	})
}

func (o *Onboarding) CancelCase(ctx context.Context, id model.CaseID, actor, reason string) (*model.Case, error) {
	return o.mutateCase(ctx, "CancelCase", id, actor, func(c *model.Case, now time.Time) (model.Event, error) {
		evt, err := c.Cancel(reason, now)
		if err != nil {
			return nil, err
		}
		return evt, nil
	})
}

// RecordRiskAssessment stores an assessment produced outside this service.
func (o *Onboarding) RecordRiskAssessment(ctx context.Context, id model.CaseID, level model.RiskLevel, score, source string, assessedAt time.Time) (*model.Case, error) {
	return o.mutateCase(ctx, "RecordRiskAssessment", id, source, func(c *model.Case, now time.Time) (model.Event, error) {
		evt, err := c.RecordRiskAssessment(level, score, source, assessedAt, now)
		if err != nil {
			return nil, err
		}
		return evt, nil
	})
}

// AssessRisk asks a configured risk provider to score the case and records the result.
// An empty provider name selects the default provider.
func (o *Onboarding) AssessRisk(ctx context.Context, id model.CaseID, providerName string) (*model.Case, error) {
	ctx, span := tracer.Start(ctx, "AssessRisk")
	defer span.End()

	provider, err := o.risk.Get(providerName)
	if err != nil {
		return nil, apierror.Validation("%v", err)
	}
	c, err := o.datasource.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}

	var res *riskResult
	err = o.gateway.Call(ctx, DownstreamRisk, func(ctx context.Context) error {
		a, err := provider.Assess(ctx, c)
		if err != nil {
			return err
		}
		res = &riskResult{level: a.Level, score: a.Score.String(), source: a.Source, at: a.AssessedAt}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, downstreamError(DownstreamRisk, err)
	}
	return o.RecordRiskAssessment(ctx, id, res.level, res.score, res.source, res.at)
}

type riskResult struct {
	level  model.RiskLevel
	score  string
	source string
	at     time.Time
}

// mutateCase loads the case, applies one transition and persists the state together with
// its event. Guard failures leave the stored case untouched.
func (o *Onboarding) mutateCase(ctx context.Context, op string, id model.CaseID, actor string, apply func(c *model.Case, now time.Time) (model.Event, error)) (*model.Case, error) {
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(attribute.String("case.id", id.String())))
	defer span.End()

	c, err := o.datasource.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	before := caseValues(c)

	evt, err := apply(c, o.now())
	if err != nil {
		return nil, err
	}
	if err := o.datasource.UpdateCase(ctx, c, []model.Event{evt}); err != nil {
		span.RecordError(err)
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"case_id":    c.ID.String(),
		"event_type": evt.EventType(),
		"status":     string(c.Status),
		"version":    c.Version,
	}).Info("case updated")
	o.afterCommit(ctx, evt, entityCase, actor, before, caseValues(c))
	return c, nil
}

func caseValues(c *model.Case) map[string]interface{} {
	v := map[string]interface{}{
		"status":              string(c.Status),
		"progress_percentage": c.ProgressPercentage,
		"version":             c.Version,
	}
	if c.RiskLevel != "" {
		v["risk_level"] = string(c.RiskLevel)
	}
	if c.DecidedBy != "" {
		v["decided_by"] = c.DecidedBy
	}
	if c.DecisionReason != "" {
		v["decision_reason"] = c.DecisionReason
	}
	return v
}
