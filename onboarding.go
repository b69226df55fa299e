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
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/onboarding/config"
	"github.com/blnkfinance/onboarding/database"
	"github.com/blnkfinance/onboarding/internal/apierror"
	"github.com/blnkfinance/onboarding/internal/cache"
	"github.com/blnkfinance/onboarding/internal/gateway"
	"github.com/blnkfinance/onboarding/internal/notification"
	"github.com/blnkfinance/onboarding/model"
	"github.com/blnkfinance/onboarding/risk"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

var tracer = otel.Tracer("onboarding")

// Downstream names registered with the gateway.
const (
	DownstreamEvents       = "event-channel"
	DownstreamAudit        = "audit"
	DownstreamNotification = "notification"
	DownstreamRisk         = "risk-provider"
)

// TaskQueue is the durable local queue that carries audit entries and notification
// triggers to the workers after a transition has committed.
type TaskQueue interface {
	EnqueueAudit(ctx context.Context, entry model.AuditEntry) error
	EnqueueNotification(ctx context.Context, trigger model.NotificationTrigger) error
}

// Onboarding holds the case, work-queue and projection services. They share a process
// but only talk to each other through events.
type Onboarding struct {
	datasource database.IDataSource
	queue      TaskQueue
	cache      cache.Cache
	gateway    *gateway.Gateway
	risk       *risk.Registry
	cnf        *config.Configuration
	clock      func() time.Time
}

// NewOnboarding wires the services from the loaded configuration. redisClient backs the
// projection read cache and may be nil, in which case reads go straight to the database.
func NewOnboarding(db database.IDataSource, redisClient redis.UniversalClient, queue TaskQueue, gw *gateway.Gateway) (*Onboarding, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	registry := risk.NewRegistry()
	if cnf.Risk.ProviderConfigPath != "" {
		if err := registry.LoadProvidersFromConfig(cnf.Risk.ProviderConfigPath); err != nil {
			return nil, err
		}
	}

	o := &Onboarding{
		datasource: db,
		queue:      queue,
		gateway:    gw,
		risk:       registry,
		cnf:        cnf,
		clock:      time.Now,
	}
	if redisClient != nil {
		o.cache = cache.NewRedisCache(redisClient, 0)
	}
	return o, nil
}

func (o *Onboarding) now() time.Time {
	return o.clock().UTC()
}

func (o *Onboarding) sla() time.Duration {
	return o.cnf.SLA()
}

func (o *Onboarding) refreshPolicy() model.RefreshPolicy {
	ri := o.cnf.WorkQueue.RefreshIntervals
	return model.RefreshPolicyFromDays(ri.LowDays, ri.MediumDays, ri.HighDays, ri.CriticalDays)
}

// Risk exposes the provider registry, mainly for health reporting.
func (o *Onboarding) Risk() *risk.Registry {
	return o.risk
}

// Gateway exposes breaker state for health endpoints.
func (o *Onboarding) Gateway() *gateway.Gateway {
	return o.gateway
}

// afterCommit hands the audit entry and any notification trigger to the task queue.
// The transition has already committed, so failures are logged and never returned.
func (o *Onboarding) afterCommit(ctx context.Context, evt model.Event, entityType, actor string, oldValues, newValues map[string]interface{}) {
	if o.queue == nil {
		return
	}
	m := evt.Meta()
	entry := model.AuditEntry{
		EventID:    m.EventID.String(),
		EventType:  evt.EventType(),
		EntityType: entityType,
		EntityID:   evt.AggregateID(),
		Action:     evt.EventType(),
		Actor:      actor,
		OldValues:  oldValues,
		NewValues:  newValues,
		OccurredAt: m.OccurredAt,
	}
	if err := o.queue.EnqueueAudit(ctx, entry); err != nil {
		o.park(ctx, model.DeliveryAudit, entry.EventID, entry, err)
	}

	trigger, ok := notification.TriggerFor(evt)
	if !ok {
		return
	}
	if err := o.queue.EnqueueNotification(ctx, trigger); err != nil {
		o.park(ctx, model.DeliveryNotification, trigger.EventID, trigger, err)
	}
}

// park keeps a delivery the queue refused in the database so a later pass can requeue it.
func (o *Onboarding) park(ctx context.Context, kind model.DeliveryKind, eventID string, payload interface{}, cause error) {
	fields := logrus.Fields{"event_id": eventID, "kind": string(kind)}
	logrus.WithError(cause).WithFields(fields).Warn("task queue unavailable, parking delivery")

	p, err := model.NewParkedDelivery(kind, eventID, payload, cause)
	if err == nil {
		err = o.datasource.ParkDelivery(ctx, p)
	}
	if err != nil {
		logrus.WithError(err).WithFields(fields).Error("failed to park delivery, it is lost")
	}
}

// RequeueParkedDeliveries moves up to limit parked deliveries back onto the task queue,
// oldest first. It stops at the first one the queue refuses.
func (o *Onboarding) RequeueParkedDeliveries(ctx context.Context, limit int) (int, error) {
	if o.queue == nil {
		return 0, nil
	}
	n, err := o.datasource.DrainParkedDeliveries(ctx, limit, func(p model.ParkedDelivery) error {
		switch p.Kind {
		case model.DeliveryAudit:
			var entry model.AuditEntry
			if err := json.Unmarshal(p.Payload, &entry); err != nil {
				return err
			}
			return o.queue.EnqueueAudit(ctx, entry)
		case model.DeliveryNotification:
			var trigger model.NotificationTrigger
			if err := json.Unmarshal(p.Payload, &trigger); err != nil {
				return err
			}
			return o.queue.EnqueueNotification(ctx, trigger)
		default:
			return fmt.Errorf("unknown delivery kind %q", p.Kind)
		}
	})
	if n > 0 {
		logrus.WithField("count", n).Info("requeued parked deliveries")
	}
	return n, err
}

// downstreamError turns a gateway failure into the error surfaced to callers.
func downstreamError(downstream string, err error) error {
	if err == nil {
		return nil
	}
	if kind, ok := gateway.KindOf(err); ok && kind != gateway.Permanent {
		return apierror.Wrap(apierror.ErrDownstreamUnavailable, downstream+" is unavailable, try again later", err)
	}
	return apierror.Wrap(apierror.ErrInternalServer, downstream+" call failed", err)
}
