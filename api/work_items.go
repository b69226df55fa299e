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

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blnkfinance/onboarding/api/middleware"
	apimodel "github.com/blnkfinance/onboarding/api/model"
	"github.com/blnkfinance/onboarding/model"
)

func (a Api) GetWorkItem(c *gin.Context) {
	id, ok := workItemIDParam(c)
	if !ok {
		return
	}
	resp, err := a.onboarding.GetWorkItem(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// AssignWorkItem assigns the item to a reviewer cleared for its risk level. The caller in
// X-Actor is recorded as the assigner.
func (a Api) AssignWorkItem(c *gin.Context) {
	var req apimodel.AssignWorkItem
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateAssignWorkItem(); err != nil {
		badRequest(c, err)
		return
	}
	a.workItemCommand(c, func(id model.WorkItemID, actor string) (*model.WorkItem, error) {
		return a.onboarding.AssignWorkItem(c.Request.Context(), id, req.ReviewerID, actor)
	})
}

func (a Api) StartReview(c *gin.Context) {
	a.workItemCommand(c, func(id model.WorkItemID, actor string) (*model.WorkItem, error) {
		return a.onboarding.StartReview(c.Request.Context(), id, actor)
	})
}

func (a Api) SubmitForApproval(c *gin.Context) {
	a.workItemCommand(c, func(id model.WorkItemID, actor string) (*model.WorkItem, error) {
		return a.onboarding.SubmitForApproval(c.Request.Context(), id, actor)
	})
}

// ApproveWorkItem records the second pair of eyes. The approver must hold approval
// permission and must not be the assigned reviewer.
func (a Api) ApproveWorkItem(c *gin.Context) {
	a.workItemCommand(c, func(id model.WorkItemID, actor string) (*model.WorkItem, error) {
		return a.onboarding.ApproveWorkItem(c.Request.Context(), id, actor)
	})
}

func (a Api) CompleteWorkItem(c *gin.Context) {
	a.workItemCommand(c, func(id model.WorkItemID, actor string) (*model.WorkItem, error) {
		return a.onboarding.CompleteWorkItem(c.Request.Context(), id, actor)
	})
}

func (a Api) DeclineWorkItem(c *gin.Context) {
	var req apimodel.Reason
	if !bindReason(c, &req) {
		return
	}
	a.workItemCommand(c, func(id model.WorkItemID, actor string) (*model.WorkItem, error) {
		return a.onboarding.DeclineWorkItem(c.Request.Context(), id, actor, req.Reason)
	})
}

func (a Api) EscalateWorkItem(c *gin.Context) {
	var req apimodel.Reason
	if !bindReason(c, &req) {
		return
	}
	a.workItemCommand(c, func(id model.WorkItemID, actor string) (*model.WorkItem, error) {
		return a.onboarding.EscalateWorkItem(c.Request.Context(), id, actor, req.Reason)
	})
}

func (a Api) ReopenWorkItem(c *gin.Context) {
	a.workItemCommand(c, func(id model.WorkItemID, actor string) (*model.WorkItem, error) {
		return a.onboarding.ReopenWorkItem(c.Request.Context(), id, actor)
	})
}

func (a Api) SetWorkItemDueDate(c *gin.Context) {
	var req apimodel.SetDueDate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateSetDueDate(); err != nil {
		badRequest(c, err)
		return
	}
	a.workItemCommand(c, func(id model.WorkItemID, actor string) (*model.WorkItem, error) {
		return a.onboarding.SetWorkItemDueDate(c.Request.Context(), id, req.DueDate, actor)
	})
}

// ForceRefresh starts a new review cycle for a completed item ahead of its refresh date.
func (a Api) ForceRefresh(c *gin.Context) {
	a.workItemCommand(c, func(id model.WorkItemID, actor string) (*model.WorkItem, error) {
		return a.onboarding.ForceRefresh(c.Request.Context(), id, actor)
	})
}

// ListOverdueWorkItems lists open items past their due date, oldest first.
func (a Api) ListOverdueWorkItems(c *gin.Context) {
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	items, err := a.onboarding.ListOverdueWorkItems(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// SuggestReviewerForWorkItem proposes a reviewer without assigning anyone. It responds
// 404 when no active reviewer is cleared for the item's risk level.
func (a Api) SuggestReviewerForWorkItem(c *gin.Context) {
	id, ok := workItemIDParam(c)
	if !ok {
		return
	}
	suggestion, err := a.onboarding.SuggestReviewerForWorkItem(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondSuggestion(c, suggestion)
}

func (a Api) workItemCommand(c *gin.Context, run func(id model.WorkItemID, actor string) (*model.WorkItem, error)) {
	id, ok := workItemIDParam(c)
	if !ok {
		return
	}
	resp, err := run(id, middleware.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
