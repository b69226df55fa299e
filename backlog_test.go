package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/onboarding/database/mocks"
	"github.com/blnkfinance/onboarding/internal/gateway"
	"github.com/blnkfinance/onboarding/model"
	"github.com/blnkfinance/onboarding/risk"
)

// onboardingWithQueue builds the services over q instead of the permissive default queue.
func onboardingWithQueue(q *mockTaskQueue) (*Onboarding, *mocks.MockDataSource) {
	ds := new(mocks.MockDataSource)
	return &Onboarding{
		datasource: ds,
		queue:      q,
		gateway:    gateway.New(testPolicy(), nil),
		risk:       risk.NewRegistry(),
		cnf:        testConfig(),
		clock:      func() time.Time { return testNow },
	}, ds
}

func TestRefusedAuditEntryIsParked(t *testing.T) {
	q := new(mockTaskQueue)
	q.On("EnqueueAudit", mock.Anything, mock.Anything).Return(errors.New("dial tcp: connection refused"))
	o, ds := onboardingWithQueue(q)

	c := draftCase(t)
	evt, err := c.UpdateApplicant(testApplicant(), testNow)
	require.NoError(t, err)

	ds.On("ParkDelivery", mock.Anything, mock.MatchedBy(func(p model.ParkedDelivery) bool {
		var entry model.AuditEntry
		return p.Kind == model.DeliveryAudit &&
			p.EventID == evt.Meta().EventID.String() &&
			p.LastError == "dial tcp: connection refused" &&
			json.Unmarshal(p.Payload, &entry) == nil && entry.Actor == "agent-1"
	})).Return(nil)

	o.afterCommit(context.Background(), evt, entityCase, "agent-1", nil, nil)
	ds.AssertExpectations(t)
}

func TestRequeueParkedDeliveries(t *testing.T) {
	q := new(mockTaskQueue)
	q.On("EnqueueAudit", mock.Anything, mock.MatchedBy(func(e model.AuditEntry) bool { return e.EventID == "evt-1" })).Return(nil)
	q.On("EnqueueNotification", mock.Anything, mock.MatchedBy(func(n model.NotificationTrigger) bool { return n.EventID == "evt-2" })).Return(nil)
	o, ds := onboardingWithQueue(q)

	audit, err := model.NewParkedDelivery(model.DeliveryAudit, "evt-1", model.AuditEntry{EventID: "evt-1"}, nil)
	require.NoError(t, err)
	note, err := model.NewParkedDelivery(model.DeliveryNotification, "evt-2", model.NotificationTrigger{EventID: "evt-2", Type: model.NotificationCaseApproved}, nil)
	require.NoError(t, err)

	ds.On("DrainParkedDeliveries", mock.Anything, 10, mock.Anything).
		Run(func(args mock.Arguments) {
			requeue := args.Get(2).(func(model.ParkedDelivery) error)
			require.NoError(t, requeue(audit))
			require.NoError(t, requeue(note))
			assert.Error(t, requeue(model.ParkedDelivery{Kind: "fax"}))
		}).
		Return(2, nil)

	n, err := o.RequeueParkedDeliveries(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	q.AssertExpectations(t)
}
