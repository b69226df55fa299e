package onboarding

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/onboarding/internal/apierror"
	redlock "github.com/blnkfinance/onboarding/internal/lock"
	"github.com/blnkfinance/onboarding/model"
)

// completedWorkItem returns a low risk item completed at completedAt.
func completedWorkItem(t *testing.T, completedAt time.Time) *model.WorkItem {
	t.Helper()
	w, _ := model.NewWorkItem(model.NewCaseID(), model.RiskLow, nil, 30*24*time.Hour, completedAt.Add(-time.Hour))
	_, err := w.Assign("rev-1", "lead-1", completedAt)
	require.NoError(t, err)
	_, err = w.StartReview("rev-1", completedAt)
	require.NoError(t, err)
	_, err = w.Complete(model.DefaultRefreshPolicy(), completedAt)
	require.NoError(t, err)
	return w
}

func newTestScheduler(t *testing.T, o *Onboarding, owner string) (*RefreshScheduler, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return o.NewRefreshScheduler(client, owner), client
}

func TestSweepMarksDueItems(t *testing.T) {
	o, ds, q := newTestOnboarding(t)
	s, client := newTestScheduler(t, o, "instance-a")
	due := completedWorkItem(t, testNow.AddDate(-3, 0, 0))
	notDue := completedWorkItem(t, testNow.Add(-24*time.Hour))

	ds.On("ListDueForRefresh", mock.Anything, testNow, 50).Return([]model.WorkItemID{due.ID, notDue.ID}, nil)
	ds.On("GetWorkItem", mock.Anything, due.ID).Return(due, nil)
	ds.On("GetWorkItem", mock.Anything, notDue.ID).Return(notDue, nil)
	ds.On("UpdateWorkItem", mock.Anything, due, mock.MatchedBy(func(events []model.Event) bool {
		e, ok := events[0].(*model.WorkItemRefreshDue)
		return ok && !e.Forced && e.RefreshCount == 1
	})).Return(nil)

	moved, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	assert.Equal(t, model.WorkItemStatusDueForRefresh, due.Status)
	require.NotNil(t, due.DueDate)
	assert.Equal(t, testNow.Add(30*24*time.Hour), *due.DueDate)
	assert.Equal(t, model.WorkItemStatusCompleted, notDue.Status)
	q.AssertCalled(t, "EnqueueAudit", mock.Anything, mock.MatchedBy(func(e model.AuditEntry) bool {
		return e.Actor == systemActor && e.EventType == model.EventWorkItemRefreshDue
	}))

	// The lease is released once the pass ends.
	exists, err := client.Exists(context.Background(), refreshSweepLeaseKey).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestSweepSkipsWhenLeaseHeldElsewhere(t *testing.T) {
	o, ds, _ := newTestOnboarding(t)
	s, client := newTestScheduler(t, o, "instance-a")

	other := redlock.NewLease(client, refreshSweepLeaseKey, "instance-b")
	ok, err := other.TryAcquire(context.Background(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	moved, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, moved)
	ds.AssertNotCalled(t, "ListDueForRefresh", mock.Anything, mock.Anything, mock.Anything)

	owner, err := client.Get(context.Background(), refreshSweepLeaseKey).Result()
	require.NoError(t, err)
	assert.Equal(t, "instance-b", owner)
}

func TestForceRefreshBeforeRefreshDate(t *testing.T) {
	o, ds, _ := newTestOnboarding(t)
	w := completedWorkItem(t, testNow.Add(-24*time.Hour))
	ds.On("GetWorkItem", mock.Anything, w.ID).Return(w, nil)
	ds.On("UpdateWorkItem", mock.Anything, w, mock.Anything).Return(nil)

	got, err := o.ForceRefresh(context.Background(), w.ID, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, model.WorkItemStatusDueForRefresh, got.Status)
	assert.Equal(t, 1, got.RefreshCount)
	assert.Empty(t, got.AssignedTo)
}

func TestForceRefreshRequiresCompletedItem(t *testing.T) {
	o, ds, _ := newTestOnboarding(t)
	w := newWorkItem(model.RiskMedium)
	ds.On("GetWorkItem", mock.Anything, w.ID).Return(w, nil)

	_, err := o.ForceRefresh(context.Background(), w.ID, "lead-1")
	assert.True(t, apierror.Is(err, apierror.ErrValidation))
	ds.AssertNotCalled(t, "UpdateWorkItem", mock.Anything, mock.Anything, mock.Anything)
}
