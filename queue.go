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
	"errors"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/onboarding/config"
	redis_db "github.com/blnkfinance/onboarding/internal/redis-db"
	"github.com/blnkfinance/onboarding/model"
)

// Task type names. They double as queue names unless the configuration overrides them.
const (
	TaskAuditDelivery        = "audit_delivery"
	TaskNotificationDelivery = "notification_delivery"
)

// Queue is the asynq-backed TaskQueue. Tasks are keyed by event id so an entry enqueued
// twice for the same event is delivered once.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	cnf       *config.Configuration
}

// NewQueue connects the task queue to the Redis instance in conf.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := redis_db.AsynqOptions(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	return &Queue{
		Client:    asynq.NewClient(opt),
		Inspector: asynq.NewInspector(opt),
		cnf:       conf,
	}, nil
}

func (q *Queue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		logrus.WithError(err).Warn("closing queue inspector")
	}
	return q.Client.Close()
}

// EnqueueAudit schedules delivery of an audit entry to the audit sink.
func (q *Queue) EnqueueAudit(ctx context.Context, entry model.AuditEntry) error {
	return q.enqueue(ctx, TaskAuditDelivery, q.cnf.Queue.AuditQueue, "audit:"+entry.EventID, entry)
}

// EnqueueNotification schedules delivery of a notification trigger.
func (q *Queue) EnqueueNotification(ctx context.Context, trigger model.NotificationTrigger) error {
	return q.enqueue(ctx, TaskNotificationDelivery, q.cnf.Queue.NotificationQueue, "notification:"+trigger.EventID, trigger)
}

func (q *Queue) enqueue(ctx context.Context, taskType, queue, taskID string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	task := asynq.NewTask(taskType, data,
		asynq.TaskID(taskID),
		asynq.Queue(queue),
		asynq.MaxRetry(q.cnf.Queue.MaxRetry),
	)
	info, err := q.Client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"task_id": info.ID, "queue": info.Queue}).Debug("task enqueued")
	return nil
}
