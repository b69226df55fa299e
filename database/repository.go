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

package database

import (
	"context"
	"time"

	"github.com/blnkfinance/onboarding/model"
)

// IDataSource groups the persistence operations of every onboarding service.
type IDataSource interface {
	caseStore
	workItemStore
	outboxStore
	projectionStore
	reviewerStore
	deliveryBacklogStore
}

// caseStore persists case aggregates. Writes commit the events' outbox rows in the same transaction.
type caseStore interface {
	NextCaseSequence(ctx context.Context) (int64, error)
	CreateCase(ctx context.Context, c *model.Case, events []model.Event) error
	GetCase(ctx context.Context, id model.CaseID) (*model.Case, error)
	UpdateCase(ctx context.Context, c *model.Case, events []model.Event) error
}

type workItemStore interface {
	CreateWorkItem(ctx context.Context, w *model.WorkItem, events []model.Event) error
	GetWorkItem(ctx context.Context, id model.WorkItemID) (*model.WorkItem, error)
	GetWorkItemByCase(ctx context.Context, caseID model.CaseID) (*model.WorkItem, error)
	UpdateWorkItem(ctx context.Context, w *model.WorkItem, events []model.Event) error
	ListOverdueWorkItems(ctx context.Context, now time.Time, sla time.Duration, limit int) ([]*model.WorkItem, error)
	ListDueForRefresh(ctx context.Context, now time.Time, limit int) ([]model.WorkItemID, error)
}

type outboxStore interface {
	ClaimOutboxBatch(ctx context.Context, owner string, limit int, ttl time.Duration) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, eventID model.EventID, owner, streamID string) error
	RecordOutboxFailure(ctx context.Context, eventID model.EventID, owner, reason string) error
	ReleaseOutboxClaims(ctx context.Context, owner string, eventIDs []model.EventID) error
	ListCaseEvents(ctx context.Context, caseID model.CaseID) ([]model.OutboxEvent, error)
}

type projectionStore interface {
	GetProjection(ctx context.Context, caseID model.CaseID) (*model.CaseProjection, error)
	SaveProjection(ctx context.Context, p *model.CaseProjection) error
	DeleteProjection(ctx context.Context, caseID model.CaseID) error
	ListProjections(ctx context.Context, filter model.ProjectionFilter) ([]*model.CaseProjection, error)
	GetDashboard(ctx context.Context, partnerID string, now time.Time) (*model.Dashboard, error)
}

type reviewerStore interface {
	CreateReviewer(ctx context.Context, r model.Reviewer) (model.Reviewer, error)
	GetReviewer(ctx context.Context, id string) (*model.Reviewer, error)
	ListReviewerWorkloads(ctx context.Context, now time.Time, sla time.Duration) ([]model.ReviewerWorkload, error)
}

// deliveryBacklogStore holds post-commit deliveries while the task queue is unavailable.
type deliveryBacklogStore interface {
	ParkDelivery(ctx context.Context, p model.ParkedDelivery) error
	DrainParkedDeliveries(ctx context.Context, limit int, requeue func(model.ParkedDelivery) error) (int, error)
}
