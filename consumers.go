package onboarding

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/onboarding/internal/apierror"
	"github.com/blnkfinance/onboarding/internal/stream"
	"github.com/blnkfinance/onboarding/model"
)

// Consumer group names. Each group receives every event once.
const (
	GroupProjections = "projections"
	GroupCaseService = "case-service"
	GroupWorkQueue   = "work-queue"
)

const systemActor = "system"

// NewConsumers builds one stream consumer per service group. instance names this process
// inside each group.
func (o *Onboarding) NewConsumers(client redis.UniversalClient, partitioner stream.Partitioner, instance string) []*stream.Consumer {
	sc := o.cnf.Stream
	build := func(group string, handler stream.Handler) *stream.Consumer {
		return stream.NewConsumer(client, stream.ConsumerConfig{
			Group:     group,
			Name:      instance,
			Streams:   partitioner.Streams(),
			Block:     sc.Block,
			Count:     sc.ReadCount,
			ClaimIdle: sc.ClaimIdle,
			OwnerTTL:  sc.OwnerTTL,
		}, handler)
	}
	return []*stream.Consumer{
		build(GroupProjections, o.ApplyEvent),
		build(GroupCaseService, o.HandleCaseServiceEvent),
		build(GroupWorkQueue, o.HandleWorkQueueEvent),
	}
}

// HandleCaseServiceEvent moves the case along when its work item reaches a milestone.
// Reactions are idempotent: a case already past the target state is left alone.
func (o *Onboarding) HandleCaseServiceEvent(ctx context.Context, env model.Envelope) error {
	evt, err := decodeForReaction(env)
	if evt == nil {
		return err
	}

	switch e := evt.(type) {
	case *model.WorkItemReviewStarted:
		err = o.ensureCaseInReview(ctx, e.CaseID)
	case *model.WorkItemCompleted:
		actor := e.ApprovedBy
		if actor == "" {
			actor = e.ReviewerID
		}
		err = o.approveFromReview(ctx, e.CaseID, actor)
	case *model.WorkItemDeclined:
		err = o.rejectFromReview(ctx, e.CaseID, e.DeclinedBy, e.Reason)
	default:
		return nil
	}
	return settleReaction(env, err)
}

// HandleWorkQueueEvent opens and maintains work items in response to case events.
func (o *Onboarding) HandleWorkQueueEvent(ctx context.Context, env model.Envelope) error {
	evt, err := decodeForReaction(env)
	if evt == nil {
		return err
	}

	switch e := evt.(type) {
	case *model.CaseSubmitted:
		_, err = o.OpenWorkItem(ctx, e.CaseID, e.RiskLevel, nil)
	case *model.RiskAssessed:
		err = o.applyRiskToWorkItem(ctx, e)
	case *model.CaseCancelled:
		err = o.declineForCancelledCase(ctx, e.CaseID)
	default:
		return nil
	}
	return settleReaction(env, err)
}

func (o *Onboarding) ensureCaseInReview(ctx context.Context, caseID model.CaseID) error {
	c, err := o.datasource.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	if c.Status != model.CaseStatusSubmitted {
		return nil
	}
	_, err = o.MoveCaseToReview(ctx, caseID, systemActor)
	return err
}

func (o *Onboarding) approveFromReview(ctx context.Context, caseID model.CaseID, actor string) error {
	if err := o.ensureCaseInReview(ctx, caseID); err != nil {
		return err
	}
	c, err := o.datasource.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	if c.Status != model.CaseStatusPendingReview {
		return nil
	}
	_, err = o.ApproveCase(ctx, caseID, actor)
	return err
}

func (o *Onboarding) rejectFromReview(ctx context.Context, caseID model.CaseID, actor, reason string) error {
	c, err := o.datasource.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	if c.Status.IsTerminal() {
		return nil
	}
	if actor == "" {
		actor = systemActor
	}
	if c.Status == model.CaseStatusSubmitted {
		if err := o.ensureCaseInReview(ctx, caseID); err != nil {
			return err
		}
	}
	_, err = o.RejectCase(ctx, caseID, actor, reason)
	return err
}

func (o *Onboarding) applyRiskToWorkItem(ctx context.Context, e *model.RiskAssessed) error {
	w, err := o.datasource.GetWorkItemByCase(ctx, e.CaseID)
	if apierror.Is(err, apierror.ErrNotFound) {
		// Not submitted yet; the submission snapshot carries the risk level.
		return nil
	}
	if err != nil {
		return err
	}
	_, err = o.UpdateWorkItemRisk(ctx, w.ID, e.RiskLevel, e.AssessedAt)
	return err
}

func (o *Onboarding) declineForCancelledCase(ctx context.Context, caseID model.CaseID) error {
	w, err := o.datasource.GetWorkItemByCase(ctx, caseID)
	if apierror.Is(err, apierror.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if w.Status.IsTerminal() || w.Status == model.WorkItemStatusDueForRefresh {
		return nil
	}
	_, err = o.DeclineWorkItem(ctx, w.ID, systemActor, "case cancelled")
	return err
}

func decodeForReaction(env model.Envelope) (model.Event, error) {
	evt, err := env.Decode()
	if err == nil {
		return evt, nil
	}
	var unknown model.ErrUnknownEventType
	if errors.As(err, &unknown) {
		// Newer producers may emit types this build does not react to.
		return nil, nil
	}
	return nil, fmt.Errorf("decoding %s: %w", env.EventID, err)
}

// settleReaction decides whether a failed reaction is redelivered. Guard failures will fail
// the same way again, so they are logged and acknowledged.
func settleReaction(env model.Envelope, err error) error {
	if err == nil {
		return nil
	}
	if apierror.Is(err, apierror.ErrValidation) || apierror.Is(err, apierror.ErrNotFound) {
		logrus.WithError(err).WithFields(logrus.Fields{
			"event_id":   env.EventID.String(),
			"event_type": env.EventType,
		}).Warn("event reaction rejected, skipping")
		return nil
	}
	return err
}
