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
package model

import (
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/blnkfinance/onboarding/model"
)

func caseTypeRule(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	_, err := model.ParseCaseType(s)
	if err != nil {
		return errors.New("must be one of INDIVIDUAL, CORPORATE, TRUST, PARTNERSHIP")
	}
	return nil
}

func riskLevelRule(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := model.ParseRiskLevel(s); err != nil {
		return errors.New("must be one of LOW, MEDIUM, HIGH, CRITICAL")
	}
	return nil
}

type CreateCase struct {
	Type               string `json:"type"`
	PartnerID          string `json:"partner_id"`
	PartnerReferenceID string `json:"partner_reference_id"`
}

func (c *CreateCase) ValidateCreateCase() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Type, validation.Required, validation.By(caseTypeRule)),
		validation.Field(&c.PartnerID, validation.Required),
	)
}

func (c *CreateCase) CaseType() model.CaseType {
	return model.CaseType(strings.ToUpper(strings.TrimSpace(c.Type)))
}

// Reason carries the free-text justification that rejections, cancellations, declines
// and escalations require.
type Reason struct {
	Reason string `json:"reason"`
}

func (r *Reason) ValidateReason() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Reason, validation.Required, validation.Length(1, 1000)),
	)
}

type RecordRiskAssessment struct {
	RiskLevel  string    `json:"risk_level"`
	Score      string    `json:"score"`
	Source     string    `json:"source"`
	AssessedAt time.Time `json:"assessed_at"`
}

func (r *RecordRiskAssessment) ValidateRecordRiskAssessment() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.RiskLevel, validation.Required, validation.By(riskLevelRule)),
		validation.Field(&r.Source, validation.Required),
	)
}

type AssessRisk struct {
	Provider string `json:"provider"`
}

func (a *AssessRisk) ValidateAssessRisk() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.Provider, validation.Required),
	)
}

type AssignWorkItem struct {
	ReviewerID string `json:"reviewer_id"`
}

func (a *AssignWorkItem) ValidateAssignWorkItem() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.ReviewerID, validation.Required),
	)
}

type SetDueDate struct {
	DueDate time.Time `json:"due_date"`
}

func (d *SetDueDate) ValidateSetDueDate() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.DueDate, validation.Required),
	)
}

type CreateReviewer struct {
	ReviewerID   string `json:"reviewer_id"`
	DisplayName  string `json:"display_name"`
	MaxRiskLevel string `json:"max_risk_level"`
	CanApprove   bool   `json:"can_approve"`
}

func (r *CreateReviewer) ValidateCreateReviewer() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ReviewerID, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.DisplayName, validation.Required),
		validation.Field(&r.MaxRiskLevel, validation.By(riskLevelRule)),
	)
}

func (r *CreateReviewer) ToReviewer() model.Reviewer {
	return model.Reviewer{
		ReviewerID:   r.ReviewerID,
		DisplayName:  r.DisplayName,
		MaxRiskLevel: model.RiskLevel(strings.ToUpper(strings.TrimSpace(r.MaxRiskLevel))),
		CanApprove:   r.CanApprove,
		Active:       true,
	}
}
