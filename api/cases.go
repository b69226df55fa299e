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

	"github.com/blnkfinance/onboarding"
	"github.com/blnkfinance/onboarding/api/middleware"
	apimodel "github.com/blnkfinance/onboarding/api/model"
	"github.com/blnkfinance/onboarding/model"
)

// CreateCase opens a draft case for a partner.
//
// Responses:
// - 400 Bad Request: If the body is malformed or fails validation.
// - 201 Created: With the new case.
func (a Api) CreateCase(c *gin.Context) {
	var req apimodel.CreateCase
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateCreateCase(); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := a.onboarding.CreateCase(c.Request.Context(), onboarding.CreateCaseRequest{
		Type:               req.CaseType(),
		PartnerID:          req.PartnerID,
		PartnerReferenceID: req.PartnerReferenceID,
		Actor:              middleware.Actor(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// GetCase returns the write-side state of a case. Read-heavy callers should use the case view.
func (a Api) GetCase(c *gin.Context) {
	id, ok := caseIDParam(c)
	if !ok {
		return
	}
	resp, err := a.onboarding.GetCase(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) UpdateApplicant(c *gin.Context) {
	id, ok := caseIDParam(c)
	if !ok {
		return
	}
	var details model.ApplicantDetails
	if err := c.ShouldBindJSON(&details); err != nil {
		badRequest(c, err)
		return
	}
	resp, err := a.onboarding.UpdateApplicant(c.Request.Context(), id, details, middleware.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) UpdateBusiness(c *gin.Context) {
	id, ok := caseIDParam(c)
	if !ok {
		return
	}
	var details model.BusinessDetails
	if err := c.ShouldBindJSON(&details); err != nil {
		badRequest(c, err)
		return
	}
	resp, err := a.onboarding.UpdateBusiness(c.Request.Context(), id, details, middleware.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// SubmitCase moves a complete draft to Submitted, which opens its work item.
//
// Responses:
// - 422 Unprocessable Entity: If the case is incomplete or not a draft.
// - 409 Conflict: If the case changed concurrently.
// - 200 OK: With the submitted case.
func (a Api) SubmitCase(c *gin.Context) {
	a.caseCommand(c, func(id model.CaseID, actor string) (*model.Case, error) {
		return a.onboarding.SubmitCase(c.Request.Context(), id, actor)
	})
}

func (a Api) MoveCaseToReview(c *gin.Context) {
	a.caseCommand(c, func(id model.CaseID, actor string) (*model.Case, error) {
		return a.onboarding.MoveCaseToReview(c.Request.Context(), id, actor)
	})
}

func (a Api) ApproveCase(c *gin.Context) {
	a.caseCommand(c, func(id model.CaseID, actor string) (*model.Case, error) {
		return a.onboarding.ApproveCase(c.Request.Context(), id, actor)
	})
}

func (a Api) RejectCase(c *gin.Context) {
	var req apimodel.Reason
	if !bindReason(c, &req) {
		return
	}
	a.caseCommand(c, func(id model.CaseID, actor string) (*model.Case, error) {
		return a.onboarding.RejectCase(c.Request.Context(), id, actor, req.Reason)
	})
}

func (a Api) CancelCase(c *gin.Context) {
	var req apimodel.Reason
	if !bindReason(c, &req) {
		return
	}
	a.caseCommand(c, func(id model.CaseID, actor string) (*model.Case, error) {
		return a.onboarding.CancelCase(c.Request.Context(), id, actor, req.Reason)
	})
}

// RecordRiskAssessment stores an assessment made outside the configured providers.
func (a Api) RecordRiskAssessment(c *gin.Context) {
	var req apimodel.RecordRiskAssessment
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateRecordRiskAssessment(); err != nil {
		badRequest(c, err)
		return
	}
	level, _ := model.ParseRiskLevel(req.RiskLevel)
	a.caseCommand(c, func(id model.CaseID, _ string) (*model.Case, error) {
		return a.onboarding.RecordRiskAssessment(c.Request.Context(), id, level, req.Score, req.Source, req.AssessedAt)
	})
}

// AssessRisk asks a configured risk provider to score the case.
//
// Responses:
// - 503 Service Unavailable: If the provider cannot be reached; retry later.
// - 200 OK: With the case carrying the new risk level.
func (a Api) AssessRisk(c *gin.Context) {
	var req apimodel.AssessRisk
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateAssessRisk(); err != nil {
		badRequest(c, err)
		return
	}
	a.caseCommand(c, func(id model.CaseID, _ string) (*model.Case, error) {
		return a.onboarding.AssessRisk(c.Request.Context(), id, req.Provider)
	})
}

func (a Api) GetWorkItemByCase(c *gin.Context) {
	id, ok := caseIDParam(c)
	if !ok {
		return
	}
	resp, err := a.onboarding.GetWorkItemByCase(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) caseCommand(c *gin.Context, run func(id model.CaseID, actor string) (*model.Case, error)) {
	id, ok := caseIDParam(c)
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

func bindReason(c *gin.Context, req *apimodel.Reason) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		badRequest(c, err)
		return false
	}
	if err := req.ValidateReason(); err != nil {
		badRequest(c, err)
		return false
	}
	return true
}
