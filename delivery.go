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
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/onboarding/config"
	"github.com/blnkfinance/onboarding/internal/gateway"
	"github.com/blnkfinance/onboarding/internal/request"
	"github.com/blnkfinance/onboarding/model"
)

// Deliverer sends queued audit entries and notification triggers to the collaborating
// services. Failures the gateway deems permanent are not retried by the queue.
type Deliverer struct {
	gateway      *gateway.Gateway
	audit        config.CollaboratorEndpoint
	notification config.CollaboratorEndpoint
	httpClient   *http.Client
}

func NewDeliverer(cnf *config.Configuration, gw *gateway.Gateway, httpClient *http.Client) *Deliverer {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Deliverer{
		gateway:      gw,
		audit:        cnf.Collaborators.Audit,
		notification: cnf.Collaborators.Notification,
		httpClient:   httpClient,
	}
}

// ProcessAudit is the asynq handler for TaskAuditDelivery.
func (d *Deliverer) ProcessAudit(ctx context.Context, t *asynq.Task) error {
	ctx, span := tracer.Start(ctx, "DeliverAudit")
	defer span.End()

	var entry model.AuditEntry
	if err := json.Unmarshal(t.Payload(), &entry); err != nil {
		logrus.WithError(err).Error("malformed audit task")
		return fmt.Errorf("decoding audit entry: %v: %w", err, asynq.SkipRetry)
	}
	return d.deliver(ctx, DownstreamAudit, d.audit, entry, logrus.Fields{
		"event_id":  entry.EventID,
		"entity_id": entry.EntityID,
	})
}

// ProcessNotification is the asynq handler for TaskNotificationDelivery.
func (d *Deliverer) ProcessNotification(ctx context.Context, t *asynq.Task) error {
	ctx, span := tracer.Start(ctx, "DeliverNotification")
	defer span.End()

	var trigger model.NotificationTrigger
	if err := json.Unmarshal(t.Payload(), &trigger); err != nil {
		logrus.WithError(err).Error("malformed notification task")
		return fmt.Errorf("decoding notification trigger: %v: %w", err, asynq.SkipRetry)
	}
	return d.deliver(ctx, DownstreamNotification, d.notification, trigger, logrus.Fields{
		"event_id": trigger.EventID,
		"case_id":  trigger.CaseID,
		"type":     trigger.Type,
	})
}

func (d *Deliverer) deliver(ctx context.Context, downstream string, endpoint config.CollaboratorEndpoint, payload interface{}, fields logrus.Fields) error {
	log := logrus.WithFields(fields).WithField("downstream", downstream)
	if endpoint.Url == "" {
		log.Debug("no endpoint configured, dropping delivery")
		return nil
	}

	client := request.NewClient(d.httpClient, endpoint.Headers)
	err := d.gateway.Call(ctx, downstream, func(ctx context.Context) error {
		return client.Do(ctx, http.MethodPost, endpoint.Url, payload, nil)
	})
	if err == nil {
		log.Debug("delivered")
		return nil
	}
	if gateway.IsPermanent(err) {
		log.WithError(err).Error("delivery rejected, giving up")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	log.WithError(err).Warn("delivery failed, will retry")
	return err
}
