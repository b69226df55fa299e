package onboarding

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	redlock "github.com/blnkfinance/onboarding/internal/lock"
	"github.com/blnkfinance/onboarding/model"
)

const refreshSweepLeaseKey = "onboarding:refresh-sweep"

// RefreshScheduler periodically moves completed work items whose refresh date has passed
// into a new review cycle. Only the instance holding the sweep lease runs a sweep.
type RefreshScheduler struct {
	onboarding *Onboarding
	lease      *redlock.Lease
	interval   time.Duration
	leaseTTL   time.Duration
	batchSize  int

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

func (o *Onboarding) NewRefreshScheduler(client redis.UniversalClient, owner string) *RefreshScheduler {
	wq := o.cnf.WorkQueue
	return &RefreshScheduler{
		onboarding: o,
		lease:      redlock.NewLease(client, refreshSweepLeaseKey, owner),
		interval:   wq.SweepInterval,
		leaseTTL:   wq.SweepLease,
		batchSize:  wq.SweepBatchSize,
		stopCh:     make(chan struct{}),
	}
}

func (s *RefreshScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()

	logrus.WithField("interval", s.interval.String()).Info("refresh scheduler started")
}

func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	logrus.Info("refresh scheduler stopped")
}

func (s *RefreshScheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				logrus.WithError(err).Error("refresh sweep failed")
			}
		}
	}
}

// Sweep runs one pass if this instance wins the lease and returns the number of items moved.
// A pass that loses the lease race returns 0 without error.
func (s *RefreshScheduler) Sweep(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "RefreshSweep")
	defer span.End()

	acquired, err := s.lease.TryAcquire(ctx, s.leaseTTL)
	if err != nil {
		return 0, err
	}
	if !acquired {
		logrus.Debug("refresh sweep held by another instance")
		return 0, nil
	}
	defer func() {
		if err := s.lease.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redlock.ErrNotHeld) {
			logrus.WithError(err).Warn("failed to release refresh sweep lease")
		}
	}()

	o := s.onboarding
	ids, err := o.datasource.ListDueForRefresh(ctx, o.now(), s.batchSize)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	moved := 0
	for _, id := range ids {
		if _, err := o.markDueForRefresh(ctx, id, false, systemActor); err != nil {
			// A concurrent transition or a lost version race; the next sweep retries.
			logrus.WithError(err).WithField("work_item_id", id.String()).Warn("could not mark work item due for refresh")
			continue
		}
		moved++
	}
	if moved > 0 {
		logrus.WithField("count", moved).Info("work items due for refresh")
	}
	return moved, nil
}

// ForceRefresh starts a refresh cycle for a completed item before its refresh date.
func (o *Onboarding) ForceRefresh(ctx context.Context, id model.WorkItemID, actor string) (*model.WorkItem, error) {
	return o.markDueForRefresh(ctx, id, true, actor)
}

func (o *Onboarding) markDueForRefresh(ctx context.Context, id model.WorkItemID, forced bool, actor string) (*model.WorkItem, error) {
	sla := o.sla()
	return o.mutateWorkItem(ctx, "MarkDueForRefresh", id, actor, func(w *model.WorkItem, now time.Time) (model.Event, error) {
		evt, err := w.MarkDueForRefresh(forced, sla, now)
		if err != nil {
			return nil, err
		}
		return evt, nil
	})
}
