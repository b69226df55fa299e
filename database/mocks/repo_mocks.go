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
package mocks

import (
	"context"
	"time"

	"github.com/blnkfinance/onboarding/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Case methods

func (m *MockDataSource) NextCaseSequence(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataSource) CreateCase(ctx context.Context, c *model.Case, events []model.Event) error {
	args := m.Called(ctx, c, events)
	return args.Error(0)
}

func (m *MockDataSource) GetCase(ctx context.Context, id model.CaseID) (*model.Case, error) {
	args := m.Called(ctx, id)
	if c, ok := args.Get(0).(*model.Case); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) UpdateCase(ctx context.Context, c *model.Case, events []model.Event) error {
	args := m.Called(ctx, c, events)
	return args.Error(0)
}

// Work item methods

func (m *MockDataSource) CreateWorkItem(ctx context.Context, w *model.WorkItem, events []model.Event) error {
	args := m.Called(ctx, w, events)
	return args.Error(0)
}

func (m *MockDataSource) GetWorkItem(ctx context.Context, id model.WorkItemID) (*model.WorkItem, error) {
	args := m.Called(ctx, id)
	if w, ok := args.Get(0).(*model.WorkItem); ok {
		return w, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) GetWorkItemByCase(ctx context.Context, caseID model.CaseID) (*model.WorkItem, error) {
	args := m.Called(ctx, caseID)
	if w, ok := args.Get(0).(*model.WorkItem); ok {
		return w, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) UpdateWorkItem(ctx context.Context, w *model.WorkItem, events []model.Event) error {
	args := m.Called(ctx, w, events)
	return args.Error(0)
}

func (m *MockDataSource) ListOverdueWorkItems(ctx context.Context, now time.Time, sla time.Duration, limit int) ([]*model.WorkItem, error) {
	args := m.Called(ctx, now, sla, limit)
	if items, ok := args.Get(0).([]*model.WorkItem); ok {
		return items, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) ListDueForRefresh(ctx context.Context, now time.Time, limit int) ([]model.WorkItemID, error) {
	args := m.Called(ctx, now, limit)
	if ids, ok := args.Get(0).([]model.WorkItemID); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}

// Outbox methods

func (m *MockDataSource) ClaimOutboxBatch(ctx context.Context, owner string, limit int, ttl time.Duration) ([]model.OutboxEvent, error) {
	args := m.Called(ctx, owner, limit, ttl)
	if rows, ok := args.Get(0).([]model.OutboxEvent); ok {
		return rows, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) MarkOutboxProcessed(ctx context.Context, eventID model.EventID, owner, streamID string) error {
	args := m.Called(ctx, eventID, owner, streamID)
	return args.Error(0)
}

func (m *MockDataSource) RecordOutboxFailure(ctx context.Context, eventID model.EventID, owner, reason string) error {
	args := m.Called(ctx, eventID, owner, reason)
	return args.Error(0)
}

func (m *MockDataSource) ReleaseOutboxClaims(ctx context.Context, owner string, eventIDs []model.EventID) error {
	args := m.Called(ctx, owner, eventIDs)
	return args.Error(0)
}

func (m *MockDataSource) ListCaseEvents(ctx context.Context, caseID model.CaseID) ([]model.OutboxEvent, error) {
	args := m.Called(ctx, caseID)
	if rows, ok := args.Get(0).([]model.OutboxEvent); ok {
		return rows, args.Error(1)
	}
	return nil, args.Error(1)
}

// Projection methods

func (m *MockDataSource) GetProjection(ctx context.Context, caseID model.CaseID) (*model.CaseProjection, error) {
	args := m.Called(ctx, caseID)
	if p, ok := args.Get(0).(*model.CaseProjection); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) SaveProjection(ctx context.Context, p *model.CaseProjection) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockDataSource) DeleteProjection(ctx context.Context, caseID model.CaseID) error {
	args := m.Called(ctx, caseID)
	return args.Error(0)
}

func (m *MockDataSource) ListProjections(ctx context.Context, filter model.ProjectionFilter) ([]*model.CaseProjection, error) {
	args := m.Called(ctx, filter)
	if ps, ok := args.Get(0).([]*model.CaseProjection); ok {
		return ps, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) GetDashboard(ctx context.Context, partnerID string, now time.Time) (*model.Dashboard, error) {
	args := m.Called(ctx, partnerID, now)
	if d, ok := args.Get(0).(*model.Dashboard); ok {
		return d, args.Error(1)
	}
	return nil, args.Error(1)
}

// Reviewer methods

func (m *MockDataSource) CreateReviewer(ctx context.Context, r model.Reviewer) (model.Reviewer, error) {
	args := m.Called(ctx, r)
	return args.Get(0).(model.Reviewer), args.Error(1)
}

func (m *MockDataSource) GetReviewer(ctx context.Context, id string) (*model.Reviewer, error) {
	args := m.Called(ctx, id)
	if r, ok := args.Get(0).(*model.Reviewer); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) ListReviewerWorkloads(ctx context.Context, now time.Time, sla time.Duration) ([]model.ReviewerWorkload, error) {
	args := m.Called(ctx, now, sla)
	if wl, ok := args.Get(0).([]model.ReviewerWorkload); ok {
		return wl, args.Error(1)
	}
	return nil, args.Error(1)
}

// Delivery backlog methods

func (m *MockDataSource) ParkDelivery(ctx context.Context, p model.ParkedDelivery) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockDataSource) DrainParkedDeliveries(ctx context.Context, limit int, requeue func(model.ParkedDelivery) error) (int, error) {
	args := m.Called(ctx, limit, requeue)
	return args.Int(0), args.Error(1)
}
