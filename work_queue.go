package onboarding

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/blnkfinance/onboarding/internal/apierror"
	"github.com/blnkfinance/onboarding/model"
)

const (
	entityWorkItem = "work_item"

	defaultOverdueLimit = 100
)

// OpenWorkItem creates the review work item for a submitted case. It is idempotent per case:
// an existing item is returned unchanged.
func (o *Onboarding) OpenWorkItem(ctx context.Context, caseID model.CaseID, risk model.RiskLevel, assessedAt *time.Time) (*model.WorkItem, error) {
	ctx, span := tracer.Start(ctx, "OpenWorkItem", trace.WithAttributes(attribute.String("case.id", caseID.String())))
	defer span.End()

	existing, err := o.datasource.GetWorkItemByCase(ctx, caseID)
	if err == nil {
		return existing, nil
	}
	if !apierror.Is(err, apierror.ErrNotFound) {
		return nil, err
	}

	w, evt := model.NewWorkItem(caseID, risk, assessedAt, o.sla(), o.now())
	if err := o.datasource.CreateWorkItem(ctx, w, []model.Event{evt}); err != nil {
		if apierror.Is(err, apierror.ErrConflict) {
			// Another consumer opened it first.
			return o.datasource.GetWorkItemByCase(ctx, caseID)
		}
		span.RecordError(err)
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"work_item_id": w.ID.String(),
		"case_id":      caseID.String(),
		"risk_level":   string(w.RiskLevel),
	}).Info("work item opened")
	o.afterCommit(ctx, evt, entityWorkItem, "system", nil, workItemValues(w))
	return w, nil
}

func (o *Onboarding) GetWorkItem(ctx context.Context, id model.WorkItemID) (*model.WorkItem, error) {
	return o.datasource.GetWorkItem(ctx, id)
}

func (o *Onboarding) GetWorkItemByCase(ctx context.Context, caseID model.CaseID) (*model.WorkItem, error) {
	return o.datasource.GetWorkItemByCase(ctx, caseID)
}

// AssignWorkItem hands the item to a reviewer. The reviewer must be active and cleared for
// the item's risk level.
func (o *Onboarding) AssignWorkItem(ctx context.Context, id model.WorkItemID, reviewerID, assignedBy string) (*model.WorkItem, error) {
	reviewer, err := o.datasource.GetReviewer(ctx, reviewerID)
	if err != nil {
		return nil, err
	}
	return o.mutateWorkItem(ctx, "AssignWorkItem", id, assignedBy, func(w *model.WorkItem, now time.Time) (model.Event, error) {
		if !reviewer.Active {
			return nil, apierror.Validation("reviewer %s is not active", reviewer.ReviewerID)
		}
		if !reviewer.MaxRiskLevel.AtLeast(w.RiskLevel) {
			return nil, apierror.Validation("reviewer %s cannot review %s risk work items", reviewer.ReviewerID, w.RiskLevel)
		}
		evt, err := w.Assign(reviewer.ReviewerID, assignedBy, now)
		if err != nil {
			return nil, err
		}
		return evt, nil
	})
}

func (o *Onboarding) StartReview(ctx context.Context, id model.WorkItemID, reviewerID string) (*model.WorkItem, error) {
	return o.mutateWorkItem(ctx, "StartReview", id, reviewerID, func(w *model.WorkItem, now time.Time) (model.Event, error) {
		evt, err := w.StartReview(reviewerID, now)
		if err != nil {
			return nil, err
		}
		return evt, nil
	})
}

func (o *Onboarding) SubmitForApproval(ctx context.Context, id model.WorkItemID, actor string) (*model.WorkItem, error) {
	return o.mutateWorkItem(ctx, "SubmitForApproval", id, actor, func(w *model.WorkItem, now time.Time) (model.Event, error) {
		evt, err := w.SubmitForApproval(now)
		if err != nil {
			return nil, err
		}
		return evt, nil
	})
}

// ApproveWorkItem records the approver's sign-off. Registered approvers must hold the
// approval permission.
func (o *Onboarding) ApproveWorkItem(ctx context.Context, id model.WorkItemID, approver string) (*model.WorkItem, error) {
	reviewer, err := o.datasource.GetReviewer(ctx, approver)
	if err != nil && !apierror.Is(err, apierror.ErrNotFound) {
		return nil, err
	}
	if reviewer != nil && !reviewer.CanApprove {
		return nil, apierror.Validation("reviewer %s is not allowed to approve", approver)
	}
	return o.mutateWorkItem(ctx, "ApproveWorkItem", id, approver, func(w *model.WorkItem, now time.Time) (model.Event, error) {
		evt, err := w.Approve(approver, now)
		if err != nil {
			return nil, err
		}
		return evt, nil
	})
}

func (o *Onboarding) CompleteWorkItem(ctx context.Context, id model.WorkItemID, actor string) (*model.WorkItem, error) {
	policy := o.refreshPolicy()
	return o.mutateWorkItem(ctx, "CompleteWorkItem", id, actor, func(w *model.WorkItem, now time.Time) (model.Event, error) {
		evt, err := w.Complete(policy, now)
		if err != nil {
			return nil, err
		}
		return evt, nil
	})
}

func (o *Onboarding) DeclineWorkItem(ctx context.Context, id model.WorkItemID, actor, reason string) (*model.WorkItem, error) {
	return o.mutateWorkItem(ctx, "DeclineWorkItem", id, actor, func(w *model.WorkItem, now time.Time) (model.Event, error) {
		evt, err := w.Decline(actor, reason, now)
		if err != nil {
			return nil, err
		}
		return evt, nil
	})
}

func (o *Onboarding) EscalateWorkItem(ctx context.Context, id model.WorkItemID, actor, reason string) (*model.WorkItem, error) {
	return o.mutateWorkItem(ctx, "EscalateWorkItem", id, actor, func(w *model.WorkItem, now time.Time) (model.Event, error) {
		evt, err := w.Escalate(actor, reason, now)
		if err != nil {
			return nil, err
		}
		return evt, nil
	})
}

func (o *Onboarding) ReopenWorkItem(ctx context.Context, id model.WorkItemID, actor string) (*model.WorkItem, error) {
	sla := o.sla()
	return o.mutateWorkItem(ctx, "ReopenWorkItem", id, actor, func(w *model.WorkItem, now time.Time) (model.Event, error) {
		evt, err := w.Reopen(actor, sla, now)
		if err != nil {
			return nil, err
		}
		return evt, nil
	})
}

func (o *Onboarding) SetWorkItemDueDate(ctx context.Context, id model.WorkItemID, due time.Time, actor string) (*model.WorkItem, error) {
	return o.mutateWorkItem(ctx, "SetWorkItemDueDate", id, actor, func(w *model.WorkItem, now time.Time) (model.Event, error) {
		evt, err := w.SetDueDate(due, now)
		if err != nil {
			return nil, err
		}
		return evt, nil
	})
}

// UpdateWorkItemRisk applies a risk assessment. Stale or unchanged assessments are a no-op.
func (o *Onboarding) UpdateWorkItemRisk(ctx context.Context, id model.WorkItemID, level model.RiskLevel, assessedAt time.Time) (*model.WorkItem, error) {
	return o.mutateWorkItem(ctx, "UpdateWorkItemRisk", id, "system", func(w *model.WorkItem, now time.Time) (model.Event, error) {
		evt, err := w.UpdateRisk(level, assessedAt, now)
		if err != nil || evt == nil {
			return nil, err
		}
		return evt, nil
	})
}

// ListOverdueWorkItems returns open items past their due date, oldest deadline first.
func (o *Onboarding) ListOverdueWorkItems(ctx context.Context, limit int) ([]*model.WorkItem, error) {
	if limit <= 0 {
		limit = defaultOverdueLimit
	}
	return o.datasource.ListOverdueWorkItems(ctx, o.now(), o.sla(), limit)
}

// mutateWorkItem loads the item, applies one transition and persists it with its event.
// A nil event means nothing changed and nothing is written.
func (o *Onboarding) mutateWorkItem(ctx context.Context, op string, id model.WorkItemID, actor string, apply func(w *model.WorkItem, now time.Time) (model.Event, error)) (*model.WorkItem, error) {
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(attribute.String("work_item.id", id.String())))
	defer span.End()

	w, err := o.datasource.GetWorkItem(ctx, id)
	if err != nil {
		return nil, err
	}
	before := workItemValues(w)

	evt, err := apply(w, o.now())
	if err != nil {
		return nil, err
	}
	if evt == nil {
		return w, nil
	}
	if err := o.datasource.UpdateWorkItem(ctx, w, []model.Event{evt}); err != nil {
		span.RecordError(err)
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"work_item_id": w.ID.String(),
		"event_type":   evt.EventType(),
		"status":       string(w.Status),
		"version":      w.Version,
	}).Info("work item updated")
	o.afterCommit(ctx, evt, entityWorkItem, actor, before, workItemValues(w))
	return w, nil
}

func workItemValues(w *model.WorkItem) map[string]interface{} {
	v := map[string]interface{}{
		"status":     string(w.Status),
		"risk_level": string(w.RiskLevel),
		"priority":   int(w.Priority),
		"version":    w.Version,
	}
	if w.AssignedTo != "" {
		v["assigned_to"] = w.AssignedTo
	}
	if w.ApprovedBy != "" {
		v["approved_by"] = w.ApprovedBy
	}
	if w.ManuallyEscalated {
		v["escalated"] = true
	}
	if w.RefreshCount > 0 {
		v["refresh_count"] = w.RefreshCount
	}
	return v
}
