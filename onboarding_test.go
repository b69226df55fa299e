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
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/onboarding/config"
	"github.com/blnkfinance/onboarding/database/mocks"
	"github.com/blnkfinance/onboarding/internal/gateway"
	"github.com/blnkfinance/onboarding/model"
	"github.com/blnkfinance/onboarding/risk"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type mockTaskQueue struct {
	mock.Mock
}

func (m *mockTaskQueue) EnqueueAudit(ctx context.Context, entry model.AuditEntry) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *mockTaskQueue) EnqueueNotification(ctx context.Context, trigger model.NotificationTrigger) error {
	return m.Called(ctx, trigger).Error(0)
}

func testConfig() *config.Configuration {
	return &config.Configuration{
		InstanceID: "test-instance",
		Outbox: config.OutboxConfig{
			PollInterval: time.Second,
			BatchSize:    10,
			ClaimTTL:     time.Minute,
		},
		Stream: config.StreamConfig{Prefix: "onboarding:events", Partitions: 4, Block: 10 * time.Millisecond, ClaimIdle: time.Minute, ReadCount: 10},
		Projection: config.ProjectionConfig{
			ProcessedEventLimit: 100,
			CacheTTL:            time.Minute,
			MaxSaveAttempts:     3,
		},
		WorkQueue: config.WorkQueueConfig{
			SLADays:          30,
			RefreshIntervals: config.RefreshIntervals{LowDays: 730, MediumDays: 365, HighDays: 90, CriticalDays: 30},
			SweepInterval:    time.Hour,
			SweepLease:       time.Minute,
			SweepBatchSize:   50,
		},
		Queue: config.QueueConfig{AuditQueue: TaskAuditDelivery, NotificationQueue: TaskNotificationDelivery, MaxRetry: 5},
	}
}

func testPolicy() gateway.Policy {
	return gateway.Policy{
		Timeout:          2 * time.Second,
		MaxAttempts:      2,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       2 * time.Millisecond,
		Multiplier:       2,
		FailureThreshold: 5,
		Window:           time.Minute,
		Cooldown:         time.Minute,
	}
}

// newTestOnboarding builds the services over a mock datasource and a permissive task queue.
func newTestOnboarding(t *testing.T) (*Onboarding, *mocks.MockDataSource, *mockTaskQueue) {
	t.Helper()
	ds := new(mocks.MockDataSource)
	q := new(mockTaskQueue)
	q.On("EnqueueAudit", mock.Anything, mock.Anything).Return(nil).Maybe()
	q.On("EnqueueNotification", mock.Anything, mock.Anything).Return(nil).Maybe()

	o := &Onboarding{
		datasource: ds,
		queue:      q,
		gateway:    gateway.New(testPolicy(), nil),
		risk:       risk.NewRegistry(),
		cnf:        testConfig(),
		clock:      func() time.Time { return testNow },
	}
	return o, ds, q
}

func testApplicant() model.ApplicantDetails {
	dob := time.Date(1985, 6, 15, 0, 0, 0, 0, time.UTC)
	return model.ApplicantDetails{
		FirstName:   gofakeit.FirstName(),
		LastName:    gofakeit.LastName(),
		DateOfBirth: &dob,
		Nationality: "GB",
		Email:       gofakeit.Email(),
		Address: &model.Address{
			Line1:      gofakeit.Street(),
			City:       gofakeit.City(),
			PostalCode: gofakeit.Zip(),
			Country:    "GB",
		},
	}
}

func draftCase(t *testing.T) *model.Case {
	t.Helper()
	c, _, err := model.NewCase(model.CaseTypeIndividual, model.FormatCaseNumber(testNow, 1), "partner-1", "ref-1", testNow)
	require.NoError(t, err)
	return c
}

func submittedCase(t *testing.T) *model.Case {
	t.Helper()
	c := draftCase(t)
	_, err := c.UpdateApplicant(testApplicant(), testNow)
	require.NoError(t, err)
	_, err = c.Submit(testNow)
	require.NoError(t, err)
	return c
}

func pendingReviewCase(t *testing.T) *model.Case {
	t.Helper()
	c := submittedCase(t)
	_, err := c.MoveToReview(testNow)
	require.NoError(t, err)
	return c
}

func newWorkItem(risk model.RiskLevel) *model.WorkItem {
	w, _ := model.NewWorkItem(model.NewCaseID(), risk, nil, 30*24*time.Hour, testNow.Add(-time.Hour))
	return w
}
