package onboarding

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/onboarding/internal/gateway"
	"github.com/blnkfinance/onboarding/internal/stream"
	"github.com/blnkfinance/onboarding/model"
)

type fakePublisher struct {
	mu        sync.Mutex
	failFor   map[model.EventID]bool
	poison    map[model.EventID]bool
	calls     int
	published []model.EventID
}

func (f *fakePublisher) Publish(_ context.Context, env model.Envelope) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.poison[env.EventID] {
		return "", gateway.MarkPermanent(errors.New("encoding envelope: unsupported value"))
	}
	if f.failFor[env.EventID] {
		return "", gateway.MarkTransient(errors.New("connection reset by peer"))
	}
	f.published = append(f.published, env.EventID)
	return "1-" + env.EventID.String(), nil
}

// caseRows returns n outbox rows for one case in sequence order.
func caseRows(t *testing.T, n int) []model.OutboxEvent {
	t.Helper()
	c := draftCase(t)
	rows := make([]model.OutboxEvent, 0, n)
	for i := 0; i < n; i++ {
		evt, err := c.UpdateApplicant(testApplicant(), testNow.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		row, err := model.NewOutboxEvent(evt)
		require.NoError(t, err)
		rows = append(rows, row)
	}
	return rows
}

func TestDispatchPublishesToStream(t *testing.T) {
	o, ds, _ := newTestOnboarding(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	part := stream.Partitioner{Prefix: "test:events", Partitions: 2}
	d := o.NewOutboxDispatcher(stream.NewPublisher(client, part), "instance-a")

	rows := caseRows(t, 2)
	ds.On("ClaimOutboxBatch", mock.Anything, "instance-a", 10, time.Minute).Return(rows, nil)
	ds.On("MarkOutboxProcessed", mock.Anything, mock.Anything, "instance-a", mock.MatchedBy(func(id string) bool { return id != "" })).Return(nil)

	res, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Claimed: 2, Published: 2}, res)

	entries, err := client.XRange(context.Background(), part.StreamFor(rows[0].PartitionKey), "-", "+").Result()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	ds.AssertNumberOfCalls(t, "MarkOutboxProcessed", 2)
}

func TestDispatchFailureHoldsBackLaterEventsOfSameAggregate(t *testing.T) {
	o, ds, _ := newTestOnboarding(t)
	first := caseRows(t, 2)
	other := caseRows(t, 1)
	batch := []model.OutboxEvent{first[0], other[0], first[1]}

	pub := &fakePublisher{failFor: map[model.EventID]bool{first[0].EventID: true}}
	d := o.NewOutboxDispatcher(pub, "instance-a")

	ds.On("ClaimOutboxBatch", mock.Anything, "instance-a", 10, time.Minute).Return(batch, nil)
	ds.On("RecordOutboxFailure", mock.Anything, first[0].EventID, "instance-a", mock.Anything).Return(nil)
	ds.On("MarkOutboxProcessed", mock.Anything, other[0].EventID, "instance-a", mock.Anything).Return(nil)
	ds.On("ReleaseOutboxClaims", mock.Anything, "instance-a", []model.EventID{first[1].EventID}).Return(nil)

	res, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Claimed: 3, Published: 1, Failed: 1, Released: 1}, res)
	assert.Equal(t, []model.EventID{other[0].EventID}, pub.published)
	ds.AssertExpectations(t)
}

func TestDispatchStopsWhenCircuitOpens(t *testing.T) {
	o, ds, _ := newTestOnboarding(t)
	policy := testPolicy()
	policy.MaxAttempts = 1
	policy.FailureThreshold = 1
	o.gateway.Register(DownstreamEvents, policy)

	a := caseRows(t, 1)
	b := caseRows(t, 1)
	c := caseRows(t, 1)
	batch := []model.OutboxEvent{a[0], b[0], c[0]}
	pub := &fakePublisher{failFor: map[model.EventID]bool{a[0].EventID: true}}
	d := o.NewOutboxDispatcher(pub, "instance-a")

	ds.On("ClaimOutboxBatch", mock.Anything, "instance-a", 10, time.Minute).Return(batch, nil)
	ds.On("RecordOutboxFailure", mock.Anything, a[0].EventID, "instance-a", mock.Anything).Return(nil)
	ds.On("ReleaseOutboxClaims", mock.Anything, "instance-a", []model.EventID{b[0].EventID, c[0].EventID}).Return(nil)

	res, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 2, res.Released)
	assert.Empty(t, pub.published)
	assert.Equal(t, "open", o.gateway.State(DownstreamEvents))
	ds.AssertNotCalled(t, "RecordOutboxFailure", mock.Anything, b[0].EventID, mock.Anything, mock.Anything)
	ds.AssertNotCalled(t, "MarkOutboxProcessed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatchRecordsAttemptWhenCircuitOpensMidRetry(t *testing.T) {
	o, ds, _ := newTestOnboarding(t)
	policy := testPolicy()
	policy.MaxAttempts = 3
	policy.FailureThreshold = 2
	o.gateway.Register(DownstreamEvents, policy)

	a := caseRows(t, 1)
	b := caseRows(t, 1)
	pub := &fakePublisher{failFor: map[model.EventID]bool{a[0].EventID: true}}
	d := o.NewOutboxDispatcher(pub, "instance-a")

	ds.On("ClaimOutboxBatch", mock.Anything, "instance-a", 10, time.Minute).Return([]model.OutboxEvent{a[0], b[0]}, nil)
	ds.On("RecordOutboxFailure", mock.Anything, a[0].EventID, "instance-a", mock.Anything).Return(nil)
	ds.On("ReleaseOutboxClaims", mock.Anything, "instance-a", []model.EventID{b[0].EventID}).Return(nil)

	res, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, pub.calls, "third attempt is rejected by the open breaker")
	assert.Equal(t, DispatchResult{Claimed: 2, Failed: 1, Released: 1}, res)
	assert.Equal(t, "open", o.gateway.State(DownstreamEvents))
	ds.AssertExpectations(t)
}

func TestDispatchDoesNotRetryPermanentPublishFailure(t *testing.T) {
	o, ds, _ := newTestOnboarding(t)
	rows := caseRows(t, 2)
	pub := &fakePublisher{poison: map[model.EventID]bool{rows[0].EventID: true}}
	d := o.NewOutboxDispatcher(pub, "instance-a")

	ds.On("ClaimOutboxBatch", mock.Anything, "instance-a", 10, time.Minute).Return(rows, nil)
	ds.On("RecordOutboxFailure", mock.Anything, rows[0].EventID, "instance-a", mock.MatchedBy(func(reason string) bool {
		return strings.Contains(reason, "encoding envelope")
	})).Return(nil)
	ds.On("ReleaseOutboxClaims", mock.Anything, "instance-a", []model.EventID{rows[1].EventID}).Return(nil)

	res, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, pub.calls)
	assert.Equal(t, DispatchResult{Claimed: 2, Failed: 1, Released: 1}, res)
	assert.Equal(t, "closed", o.gateway.State(DownstreamEvents))
	ds.AssertExpectations(t)
}

func TestDispatchEmptyBatch(t *testing.T) {
	o, ds, _ := newTestOnboarding(t)
	d := o.NewOutboxDispatcher(&fakePublisher{}, "instance-a")
	ds.On("ClaimOutboxBatch", mock.Anything, "instance-a", 10, time.Minute).Return([]model.OutboxEvent{}, nil)

	res, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)
	ds.AssertNotCalled(t, "ReleaseOutboxClaims", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcherWakeTriggersPass(t *testing.T) {
	o, ds, _ := newTestOnboarding(t)
	o.cnf.Outbox.PollInterval = time.Hour
	d := o.NewOutboxDispatcher(&fakePublisher{}, "instance-a")

	claimed := make(chan struct{}, 1)
	ds.On("ClaimOutboxBatch", mock.Anything, "instance-a", 10, time.Minute).
		Run(func(mock.Arguments) {
			select {
			case claimed <- struct{}{}:
			default:
			}
		}).
		Return([]model.OutboxEvent{}, nil)

	d.Start(context.Background())
	defer d.Stop()
	d.Wake()

	select {
	case <-claimed:
	case <-time.After(2 * time.Second):
		t.Fatal("wake did not trigger a dispatch pass")
	}
}

func TestCircuitOpenErrorKind(t *testing.T) {
	gw := gateway.New(gateway.Policy{MaxAttempts: 1, FailureThreshold: 1, Cooldown: time.Minute}, nil)
	fail := func(context.Context) error { return gateway.MarkTransient(errors.New("boom")) }

	require.Error(t, gw.Call(context.Background(), DownstreamEvents, fail))
	err := gw.Call(context.Background(), DownstreamEvents, fail)
	assert.True(t, gateway.IsCircuitOpen(err))
}
