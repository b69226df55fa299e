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
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/onboarding/config"
	"github.com/blnkfinance/onboarding/model"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	cnf := testConfig()
	cnf.Redis = config.RedisConfig{Dns: mr.Addr()}

	q, err := NewQueue(cnf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestEnqueueAudit(t *testing.T) {
	q := newTestQueue(t)
	entry := model.AuditEntry{
		EventID:    model.NewEventID().String(),
		EventType:  model.EventCaseCreated,
		EntityType: entityCase,
		EntityID:   model.NewCaseID().String(),
		Actor:      "partner-1",
		OccurredAt: testNow,
	}

	require.NoError(t, q.EnqueueAudit(context.Background(), entry))

	info, err := q.Inspector.GetTaskInfo(TaskAuditDelivery, "audit:"+entry.EventID)
	require.NoError(t, err)
	assert.Equal(t, TaskAuditDelivery, info.Type)
	assert.Equal(t, 5, info.MaxRetry)

	var got model.AuditEntry
	require.NoError(t, json.Unmarshal(info.Payload, &got))
	assert.Equal(t, entry.EntityID, got.EntityID)
}

func TestEnqueueIsIdempotentPerEvent(t *testing.T) {
	q := newTestQueue(t)
	trigger := model.NotificationTrigger{
		Type:    model.NotificationCaseApproved,
		CaseID:  model.NewCaseID().String(),
		EventID: model.NewEventID().String(),
	}

	require.NoError(t, q.EnqueueNotification(context.Background(), trigger))
	require.NoError(t, q.EnqueueNotification(context.Background(), trigger))

	pending, err := q.Inspector.ListPendingTasks(TaskNotificationDelivery)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
