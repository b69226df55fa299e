package onboarding

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/blnkfinance/onboarding/internal/apierror"
	"github.com/blnkfinance/onboarding/model"
)

const maxRebuildAttempts = 3

func projectionCacheKey(id model.CaseID) string {
	return "onboarding:projection:" + id.String()
}

// ApplyEvent folds one delivered envelope into the case projection. Redelivered events are
// ignored. Concurrent writers to the same row are resolved by reloading and reapplying.
func (o *Onboarding) ApplyEvent(ctx context.Context, env model.Envelope) error {
	ctx, span := tracer.Start(ctx, "ApplyEvent", trace.WithAttributes(
		attribute.String("event.id", env.EventID.String()),
		attribute.String("event.type", env.EventType),
	))
	defer span.End()

	evt, err := env.Decode()
	if err != nil {
		return err
	}
	caseID, err := model.ParseCaseID(env.PartitionKey)
	if err != nil {
		return err
	}

	attempts := o.cnf.Projection.MaxSaveAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		err = o.applyOnce(ctx, caseID, evt)
		if !apierror.Is(err, apierror.ErrConcurrencyConflict) {
			break
		}
		logrus.WithFields(logrus.Fields{
			"case_id":  caseID.String(),
			"event_id": env.EventID.String(),
			"attempt":  i + 1,
		}).Debug("projection row changed concurrently, reapplying")
	}
	if apierror.Is(err, apierror.ErrDuplicateEvent) {
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}
	o.invalidateView(ctx, caseID)
	return nil
}

func (o *Onboarding) applyOnce(ctx context.Context, caseID model.CaseID, evt model.Event) error {
	p, err := o.datasource.GetProjection(ctx, caseID)
	if apierror.Is(err, apierror.ErrNotFound) {
		p = model.NewCaseProjection(caseID)
	} else if err != nil {
		return err
	}
	if err := p.Apply(evt, o.cnf.Projection.ProcessedEventLimit, o.now()); err != nil {
		return err
	}
	return o.datasource.SaveProjection(ctx, p)
}

func (o *Onboarding) invalidateView(ctx context.Context, caseID model.CaseID) {
	if o.cache == nil {
		return
	}
	if err := o.cache.Delete(ctx, projectionCacheKey(caseID)); err != nil {
		logrus.WithError(err).WithField("case_id", caseID.String()).Warn("failed to invalidate projection cache")
	}
}

// GetCaseView returns the projected view of a case, read through the cache.
func (o *Onboarding) GetCaseView(ctx context.Context, caseID model.CaseID) (*model.CaseProjection, error) {
	if o.cache == nil {
		return o.datasource.GetProjection(ctx, caseID)
	}

	var raw []byte
	err := o.cache.Once(ctx, projectionCacheKey(caseID), &raw, o.cnf.Projection.CacheTTL, func() (interface{}, error) {
		p, err := o.datasource.GetProjection(ctx, caseID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(p)
	})
	if err != nil {
		return nil, err
	}
	p := &model.CaseProjection{}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decoding cached projection %s: %w", caseID, err)
	}
	return p, nil
}

func (o *Onboarding) ListCases(ctx context.Context, filter model.ProjectionFilter) ([]*model.CaseProjection, error) {
	return o.datasource.ListProjections(ctx, filter)
}

// Dashboard aggregates projections for one partner. An empty partnerID covers all partners.
func (o *Onboarding) Dashboard(ctx context.Context, partnerID string) (*model.Dashboard, error) {
	return o.datasource.GetDashboard(ctx, partnerID, o.now())
}

// RebuildProjection drops the projection of a case and replays the case's events from the
// outbox log.
func (o *Onboarding) RebuildProjection(ctx context.Context, caseID model.CaseID) (*model.CaseProjection, error) {
	ctx, span := tracer.Start(ctx, "RebuildProjection", trace.WithAttributes(attribute.String("case.id", caseID.String())))
	defer span.End()

	var (
		p   *model.CaseProjection
		err error
	)
	for i := 0; i < maxRebuildAttempts; i++ {
		p, err = o.rebuildOnce(ctx, caseID)
		if !apierror.Is(err, apierror.ErrConcurrencyConflict) {
			break
		}
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	o.invalidateView(ctx, caseID)
	logrus.WithFields(logrus.Fields{
		"case_id": caseID.String(),
		"events":  len(p.ProcessedEvents),
	}).Info("projection rebuilt")
	return p, nil
}

func (o *Onboarding) rebuildOnce(ctx context.Context, caseID model.CaseID) (*model.CaseProjection, error) {
	rows, err := o.datasource.ListCaseEvents(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apierror.NotFound("no events recorded for case %s", caseID)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].OccurredAt.Equal(rows[j].OccurredAt) {
			return rows[i].OccurredAt.Before(rows[j].OccurredAt)
		}
		return rows[i].Sequence < rows[j].Sequence
	})

	p := model.NewCaseProjection(caseID)
	limit := o.cnf.Projection.ProcessedEventLimit
	if limit > 0 && len(rows) > limit {
		limit = len(rows)
	}
	now := o.now()
	for _, row := range rows {
		evt, err := row.Envelope().Decode()
		if err != nil {
			return nil, err
		}
		if err := p.Apply(evt, limit, now); err != nil && !apierror.Is(err, apierror.ErrDuplicateEvent) {
			return nil, err
		}
	}

	if err := o.datasource.DeleteProjection(ctx, caseID); err != nil {
		return nil, err
	}
	if err := o.datasource.SaveProjection(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
