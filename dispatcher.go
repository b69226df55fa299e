/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package onboarding

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/blnkfinance/onboarding/internal/gateway"
	"github.com/blnkfinance/onboarding/model"
)

// EventPublisher appends an envelope to the event channel and returns the channel's id for it.
type EventPublisher interface {
	Publish(ctx context.Context, env model.Envelope) (string, error)
}

// DispatchResult summarises one dispatch pass.
type DispatchResult struct {
	Claimed   int
	Published int
	Failed    int
	Released  int
}

// OutboxDispatcher moves committed outbox rows onto the event channel. Rows are claimed
// with a lease so several instances can run side by side; each row is published at
// least once and rows of one aggregate are published in sequence order.
type OutboxDispatcher struct {
	onboarding   *Onboarding
	publisher    EventPublisher
	owner        string
	batchSize    int
	claimTTL     time.Duration
	pollInterval time.Duration

	wakeCh  chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

func (o *Onboarding) NewOutboxDispatcher(publisher EventPublisher, owner string) *OutboxDispatcher {
	oc := o.cnf.Outbox
	return &OutboxDispatcher{
		onboarding:   o,
		publisher:    publisher,
		owner:        owner,
		batchSize:    oc.BatchSize,
		claimTTL:     oc.ClaimTTL,
		pollInterval: oc.PollInterval,
		wakeCh:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
	}
}

func (d *OutboxDispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx)
	}()

	logrus.WithField("owner", d.owner).Info("outbox dispatcher started")
}

func (d *OutboxDispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stopCh)
	d.mu.Unlock()

	d.wg.Wait()
	logrus.Info("outbox dispatcher stopped")
}

// Wake triggers a pass ahead of the next tick. It never blocks; wakes that arrive while a
// pass is pending are merged.
func (d *OutboxDispatcher) Wake() {
	select {
	case d.wakeCh <- struct{}{}:
	default:
	}
}

func (d *OutboxDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.requeueParked(ctx)
		case <-d.wakeCh:
		}
		d.drain(ctx)
	}
}

// requeueParked retries deliveries that were parked while the task queue was down.
func (d *OutboxDispatcher) requeueParked(ctx context.Context) {
	if _, err := d.onboarding.RequeueParkedDeliveries(ctx, d.batchSize); err != nil {
		logrus.WithError(err).Warn("parked deliveries not requeued")
	}
}

// drain keeps dispatching while full batches come back, so a backlog is not throttled by
// the poll interval.
func (d *OutboxDispatcher) drain(ctx context.Context) {
	for {
		res, err := d.DispatchOnce(ctx)
		if err != nil {
			logrus.WithError(err).Error("outbox dispatch failed")
			return
		}
		if res.Claimed < d.batchSize || res.Failed > 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		default:
		}
	}
}

// DispatchOnce claims one batch and publishes it. When a row fails, the claimed rows that
// follow it for the same aggregate are released unpublished so ordering holds. An open
// circuit on the event channel ends the pass and releases everything not yet published.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) (DispatchResult, error) {
	ctx, span := tracer.Start(ctx, "DispatchOutbox")
	defer span.End()

	var res DispatchResult
	rows, err := d.onboarding.datasource.ClaimOutboxBatch(ctx, d.owner, d.batchSize, d.claimTTL)
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	res.Claimed = len(rows)
	if len(rows) == 0 {
		return res, nil
	}

	blocked := make(map[string]bool)
	var release []model.EventID
	for i, row := range rows {
		if blocked[row.AggregateID] {
			release = append(release, row.EventID)
			continue
		}

		err := d.publish(ctx, row)
		if err == nil {
			res.Published++
			continue
		}

		res.Failed++
		if gateway.IsCircuitOpen(err) {
			logrus.WithField("event_id", row.EventID.String()).Warn("event channel circuit open, ending dispatch pass")
			rest := rows[i:]
			if gateway.Executed(err) > 0 {
				// The breaker opened mid-retry after earlier attempts reached the channel.
				d.recordFailure(ctx, row, err)
				rest = rows[i+1:]
			}
			for _, r := range rest {
				release = append(release, r.EventID)
			}
			break
		}

		blocked[row.AggregateID] = true
		d.recordFailure(ctx, row, err)
	}

	if len(release) > 0 {
		if err := d.onboarding.datasource.ReleaseOutboxClaims(ctx, d.owner, release); err != nil {
			logrus.WithError(err).Error("failed to release outbox claims")
		} else {
			res.Released = len(release)
		}
	}

	span.SetAttributes(
		attribute.Int("outbox.claimed", res.Claimed),
		attribute.Int("outbox.published", res.Published),
		attribute.Int("outbox.failed", res.Failed),
	)
	return res, nil
}

func (d *OutboxDispatcher) recordFailure(ctx context.Context, row model.OutboxEvent, err error) {
	if ferr := d.onboarding.datasource.RecordOutboxFailure(ctx, row.EventID, d.owner, err.Error()); ferr != nil {
		logrus.WithError(ferr).WithField("event_id", row.EventID.String()).Error("failed to record outbox failure")
	}
	logrus.WithError(err).WithFields(logrus.Fields{
		"event_id":     row.EventID.String(),
		"event_type":   row.EventType,
		"aggregate_id": row.AggregateID,
		"attempts":     row.Attempts + 1,
	}).Warn("outbox event publish failed")
}

func (d *OutboxDispatcher) publish(ctx context.Context, row model.OutboxEvent) error {
	ctx, span := tracer.Start(ctx, "PublishOutboxEvent", trace.WithAttributes(
		attribute.String("event.id", row.EventID.String()),
		attribute.String("event.type", row.EventType),
	))
	defer span.End()

	var streamID string
	err := d.onboarding.gateway.Call(ctx, DownstreamEvents, func(ctx context.Context) error {
		id, err := d.publisher.Publish(ctx, row.Envelope())
		if err != nil {
			return err
		}
		streamID = id
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	// Publishing again after a failed mark is harmless: every consumer drops duplicates.
	if err := d.onboarding.datasource.MarkOutboxProcessed(ctx, row.EventID, d.owner, streamID); err != nil {
		logrus.WithError(err).WithField("event_id", row.EventID.String()).Warn("published event could not be marked processed")
	}
	return nil
}
