package onboarding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/onboarding/internal/apierror"
	"github.com/blnkfinance/onboarding/internal/gateway"
	"github.com/blnkfinance/onboarding/model"
	"github.com/blnkfinance/onboarding/risk"
)

type stubProvider struct {
	name       string
	assessment *risk.Assessment
	err        error
	calls      int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Assess(_ context.Context, _ *model.Case) (*risk.Assessment, error) {
	s.calls++
	return s.assessment, s.err
}

func TestCreateCase(t *testing.T) {
	o, ds, q := newTestOnboarding(t)
	ds.On("NextCaseSequence", mock.Anything).Return(int64(42), nil)
	ds.On("CreateCase", mock.Anything, mock.AnythingOfType("*model.Case"), mock.MatchedBy(func(events []model.Event) bool {
		return len(events) == 1 && events[0].EventType() == model.EventCaseCreated
	})).Return(nil)

	c, err := o.CreateCase(context.Background(), CreateCaseRequest{
		Type:      model.CaseTypeIndividual,
		PartnerID: "partner-1",
		Actor:     "partner-api",
	})
	require.NoError(t, err)

	assert.Equal(t, "OBC-20240301-00042", c.CaseNumber)
	assert.Equal(t, model.CaseStatusDraft, c.Status)
	assert.Equal(t, int64(1), c.Version)
	ds.AssertExpectations(t)
	q.AssertCalled(t, "EnqueueAudit", mock.Anything, mock.MatchedBy(func(e model.AuditEntry) bool {
		return e.EntityType == entityCase && e.EntityID == c.ID.String() && e.Actor == "partner-api" && e.OldValues == nil
	}))
	q.AssertNotCalled(t, "EnqueueNotification", mock.Anything, mock.Anything)
}

func TestCreateCaseValidation(t *testing.T) {
	o, ds, _ := newTestOnboarding(t)

	_, err := o.CreateCase(context.Background(), CreateCaseRequest{Type: "ROBOT", PartnerID: "p"})
	assert.True(t, apierror.Is(err, apierror.ErrValidation))

	_, err = o.CreateCase(context.Background(), CreateCaseRequest{Type: model.CaseTypeCorporate, PartnerID: "  "})
	assert.True(t, apierror.Is(err, apierror.ErrValidation))

	ds.AssertNotCalled(t, "NextCaseSequence", mock.Anything)
}

func TestSubmitIncompleteCaseIsNotPersisted(t *testing.T) {
	o, ds, q := newTestOnboarding(t)
	c := draftCase(t)
	ds.On("GetCase", mock.Anything, c.ID).Return(c, nil)

	_, err := o.SubmitCase(context.Background(), c.ID, "partner-api")
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrValidation))
	assert.Equal(t, model.CaseStatusDraft, c.Status)
	ds.AssertNotCalled(t, "UpdateCase", mock.Anything, mock.Anything, mock.Anything)
	q.AssertNotCalled(t, "EnqueueAudit", mock.Anything, mock.Anything)
}

func TestSubmitCase(t *testing.T) {
	o, ds, q := newTestOnboarding(t)
	c := draftCase(t)
	_, err := c.UpdateApplicant(testApplicant(), testNow)
	require.NoError(t, err)

	ds.On("GetCase", mock.Anything, c.ID).Return(c, nil)
	ds.On("UpdateCase", mock.Anything, c, mock.MatchedBy(func(events []model.Event) bool {
		return len(events) == 1 && events[0].EventType() == model.EventCaseSubmitted && events[0].Meta().Sequence == 3
	})).Return(nil)

	got, err := o.SubmitCase(context.Background(), c.ID, "partner-api")
	require.NoError(t, err)
	assert.Equal(t, model.CaseStatusSubmitted, got.Status)
	assert.Equal(t, 100, got.ProgressPercentage)
	q.AssertCalled(t, "EnqueueAudit", mock.Anything, mock.MatchedBy(func(e model.AuditEntry) bool {
		return e.OldValues["status"] == string(model.CaseStatusDraft) && e.NewValues["status"] == string(model.CaseStatusSubmitted)
	}))
}

func TestApproveCaseRaisesNotification(t *testing.T) {
	o, ds, q := newTestOnboarding(t)
	c := pendingReviewCase(t)
	ds.On("GetCase", mock.Anything, c.ID).Return(c, nil)
	ds.On("UpdateCase", mock.Anything, c, mock.Anything).Return(nil)

	_, err := o.ApproveCase(context.Background(), c.ID, "lead-1")
	require.NoError(t, err)

	q.AssertCalled(t, "EnqueueNotification", mock.Anything, mock.MatchedBy(func(n model.NotificationTrigger) bool {
		return n.Type == model.NotificationCaseApproved && n.CaseID == c.ID.String()
	}))
}

func TestConcurrentCaseUpdateSurfacesConflict(t *testing.T) {
	o, ds, q := newTestOnboarding(t)
	c := pendingReviewCase(t)
	ds.On("GetCase", mock.Anything, c.ID).Return(c, nil)
	ds.On("UpdateCase", mock.Anything, c, mock.Anything).Return(apierror.ConcurrencyConflict("case %s changed", c.ID))

	_, err := o.RejectCase(context.Background(), c.ID, "lead-1", "documents forged")
	assert.True(t, apierror.Is(err, apierror.ErrConcurrencyConflict))
	q.AssertNotCalled(t, "EnqueueAudit", mock.Anything, mock.Anything)
}

func TestQueueFailureDoesNotFailTransition(t *testing.T) {
	o, ds, _ := newTestOnboarding(t)
	failing := new(mockTaskQueue)
	failing.On("EnqueueAudit", mock.Anything, mock.Anything).Return(errors.New("redis down"))
	o.queue = failing

	c := draftCase(t)
	ds.On("GetCase", mock.Anything, c.ID).Return(c, nil)
	ds.On("UpdateCase", mock.Anything, c, mock.Anything).Return(nil)

	got, err := o.CancelCase(context.Background(), c.ID, "partner-api", "duplicate application")
	require.NoError(t, err)
	assert.Equal(t, model.CaseStatusCancelled, got.Status)
	failing.AssertExpectations(t)
}

func TestAssessRisk(t *testing.T) {
	o, ds, _ := newTestOnboarding(t)
	assessedAt := testNow.Add(-time.Minute)
	provider := &stubProvider{name: "scorecard", assessment: &risk.Assessment{
		Level:      model.RiskHigh,
		Score:      decimal.NewFromFloat(72.5),
		Source:     "scorecard",
		AssessedAt: assessedAt,
	}}
	o.risk.Register(provider)

	c := submittedCase(t)
	ds.On("GetCase", mock.Anything, c.ID).Return(c, nil)
	ds.On("UpdateCase", mock.Anything, c, mock.MatchedBy(func(events []model.Event) bool {
		e, ok := events[0].(*model.RiskAssessed)
		return ok && e.RiskLevel == model.RiskHigh
	})).Return(nil)

	got, err := o.AssessRisk(context.Background(), c.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.RiskHigh, got.RiskLevel)
	assert.Equal(t, 1, provider.calls)
}

func TestAssessRiskProviderUnavailable(t *testing.T) {
	o, ds, _ := newTestOnboarding(t)
	provider := &stubProvider{name: "scorecard", err: gateway.MarkTransient(errors.New("connection reset"))}
	o.risk.Register(provider)

	c := submittedCase(t)
	ds.On("GetCase", mock.Anything, c.ID).Return(c, nil)

	_, err := o.AssessRisk(context.Background(), c.ID, "scorecard")
	assert.True(t, apierror.Is(err, apierror.ErrDownstreamUnavailable))
	assert.Equal(t, testPolicy().MaxAttempts, provider.calls)
	ds.AssertNotCalled(t, "UpdateCase", mock.Anything, mock.Anything, mock.Anything)
}

func TestAssessRiskUnknownProvider(t *testing.T) {
	o, _, _ := newTestOnboarding(t)
	_, err := o.AssessRisk(context.Background(), model.NewCaseID(), "missing")
	assert.True(t, apierror.Is(err, apierror.ErrValidation))
}
