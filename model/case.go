package model

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/blnkfinance/onboarding/internal/apierror"
)

type CaseType string

const (
	CaseTypeIndividual  CaseType = "INDIVIDUAL"
	CaseTypeCorporate   CaseType = "CORPORATE"
	CaseTypeTrust       CaseType = "TRUST"
	CaseTypePartnership CaseType = "PARTNERSHIP"
)

func ParseCaseType(s string) (CaseType, error) {
	t := CaseType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case CaseTypeIndividual, CaseTypeCorporate, CaseTypeTrust, CaseTypePartnership:
		return t, nil
	}
	return "", apierror.Validation("unknown case type %q", s)
}

// RequiresBusiness reports whether the case carries business details instead of applicant details.
func (t CaseType) RequiresBusiness() bool {
	return t != CaseTypeIndividual
}

type CaseStatus string

const (
	CaseStatusDraft         CaseStatus = "DRAFT"
	CaseStatusSubmitted     CaseStatus = "SUBMITTED"
	CaseStatusPendingReview CaseStatus = "PENDING_REVIEW"
	CaseStatusApproved      CaseStatus = "APPROVED"
	CaseStatusRejected      CaseStatus = "REJECTED"
	CaseStatusCancelled     CaseStatus = "CANCELLED"
)

func (s CaseStatus) IsTerminal() bool {
	return s == CaseStatusApproved || s == CaseStatusRejected || s == CaseStatusCancelled
}

// Case is the system-of-record aggregate for an onboarding application.
type Case struct {
	ID                 CaseID            `json:"case_id"`
	CaseNumber         string            `json:"case_number"`
	Type               CaseType          `json:"type"`
	PartnerID          string            `json:"partner_id"`
	PartnerReferenceID string            `json:"partner_reference_id"`
	Status             CaseStatus        `json:"status"`
	Applicant          *ApplicantDetails `json:"applicant,omitempty"`
	Business           *BusinessDetails  `json:"business,omitempty"`
	ProgressPercentage int               `json:"progress_percentage"`
	RiskLevel          RiskLevel         `json:"risk_level,omitempty"`
	RiskAssessedAt     *time.Time        `json:"risk_assessed_at,omitempty"`
	DecidedBy          string            `json:"decided_by,omitempty"`
	DecisionReason     string            `json:"decision_reason,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	SubmittedAt        *time.Time        `json:"submitted_at,omitempty"`
	ApprovedAt         *time.Time        `json:"approved_at,omitempty"`
	RejectedAt         *time.Time        `json:"rejected_at,omitempty"`
	CancelledAt        *time.Time        `json:"cancelled_at,omitempty"`
	Version            int64             `json:"version"`
}

// FormatCaseNumber renders the human readable case number, e.g. OBC-20240301-00042.
func FormatCaseNumber(createdAt time.Time, seq int64) string {
	return fmt.Sprintf("OBC-%s-%05d", createdAt.UTC().Format("20060102"), seq)
}

// NewCase opens a draft case. The returned event has sequence 1.
func NewCase(caseType CaseType, number, partnerID, partnerRef string, now time.Time) (*Case, *CaseCreated, error) {
	if _, err := ParseCaseType(string(caseType)); err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(partnerID) == "" {
		return nil, nil, apierror.Validation("partner id is required")
	}
	c := &Case{
		ID:                 NewCaseID(),
		CaseNumber:         number,
		Type:               caseType,
		PartnerID:          partnerID,
		PartnerReferenceID: partnerRef,
		Status:             CaseStatusDraft,
		CreatedAt:          now.UTC(),
		UpdatedAt:          now.UTC(),
		Version:            1,
	}
	return c, &CaseCreated{caseBase: newCaseBase(c.ID, c.Version, now), CaseSnapshot: c.snapshot()}, nil
}

func (c *Case) snapshot() CaseSnapshot {
	return CaseSnapshot{
		CaseNumber:         c.CaseNumber,
		Type:               c.Type,
		PartnerID:          c.PartnerID,
		PartnerReferenceID: c.PartnerReferenceID,
		DisplayName:        c.DisplayName(),
		RiskLevel:          c.RiskLevel,
		ProgressPercentage: c.ProgressPercentage,
	}
}

// DisplayName is the applicant's full name or the business legal name.
func (c *Case) DisplayName() string {
	if c.Applicant != nil {
		return strings.TrimSpace(c.Applicant.FirstName + " " + c.Applicant.LastName)
	}
	if c.Business != nil {
		return c.Business.LegalName
	}
	return ""
}

// IsComplete reports whether the details required for submission are present.
func (c *Case) IsComplete() bool {
	return c.detailsError() == nil
}

func (c *Case) detailsError() error {
	if c.Type.RequiresBusiness() {
		if c.Business == nil {
			return apierror.Validation("business details are required for %s cases", strings.ToLower(string(c.Type)))
		}
		if err := c.Business.Validate(); err != nil {
			return apierror.Validation("business details incomplete: %v", err)
		}
		return nil
	}
	if c.Applicant == nil {
		return apierror.Validation("applicant details are required for individual cases")
	}
	if err := c.Applicant.Validate(); err != nil {
		return apierror.Validation("applicant details incomplete: %v", err)
	}
	return nil
}

func (c *Case) computeProgress() int {
	if c.Status != CaseStatusDraft {
		return 100
	}
	var filled, total int
	if c.Type.RequiresBusiness() {
		filled, total = c.Business.progress()
	} else {
		filled, total = c.Applicant.progress()
	}
	if total == 0 {
		return 0
	}
	return filled * 100 / total
}

func (c *Case) requireStatus(action string, allowed ...CaseStatus) error {
	for _, s := range allowed {
		if c.Status == s {
			return nil
		}
	}
	return apierror.Validation("cannot %s case %s in status %s", action, c.CaseNumber, c.Status)
}

func (c *Case) bump(now time.Time) {
	c.Version++
	c.UpdatedAt = now.UTC()
}

// UpdateApplicant replaces the applicant details of a draft individual case.
func (c *Case) UpdateApplicant(details ApplicantDetails, now time.Time) (*CaseDetailsUpdated, error) {
	if err := c.requireStatus("update", CaseStatusDraft); err != nil {
		return nil, err
	}
	if c.Type.RequiresBusiness() {
		return nil, apierror.Validation("%s cases take business details", strings.ToLower(string(c.Type)))
	}
	c.Applicant = &details
	return c.detailsUpdated(now), nil
}

// UpdateBusiness replaces the business details of a draft non-individual case.
func (c *Case) UpdateBusiness(details BusinessDetails, now time.Time) (*CaseDetailsUpdated, error) {
	if err := c.requireStatus("update", CaseStatusDraft); err != nil {
		return nil, err
	}
	if !c.Type.RequiresBusiness() {
		return nil, apierror.Validation("individual cases take applicant details")
	}
	c.Business = &details
	return c.detailsUpdated(now), nil
}

func (c *Case) detailsUpdated(now time.Time) *CaseDetailsUpdated {
	c.ProgressPercentage = c.computeProgress()
	c.bump(now)
	return &CaseDetailsUpdated{
		caseBase:           newCaseBase(c.ID, c.Version, now),
		DisplayName:        c.DisplayName(),
		ProgressPercentage: c.ProgressPercentage,
	}
}

func (c *Case) Submit(now time.Time) (*CaseSubmitted, error) {
	if err := c.requireStatus("submit", CaseStatusDraft); err != nil {
		return nil, err
	}
	if err := c.detailsError(); err != nil {
		return nil, err
	}
	at := now.UTC()
	c.Status = CaseStatusSubmitted
	c.SubmittedAt = &at
	c.ProgressPercentage = 100
	c.bump(now)
	return &CaseSubmitted{
		caseBase:     newCaseBase(c.ID, c.Version, now),
		CaseSnapshot: c.snapshot(),
		SubmittedAt:  at,
	}, nil
}

func (c *Case) MoveToReview(now time.Time) (*CaseMovedToReview, error) {
	if err := c.requireStatus("move to review", CaseStatusSubmitted); err != nil {
		return nil, err
	}
	c.Status = CaseStatusPendingReview
	c.bump(now)
	return &CaseMovedToReview{caseBase: newCaseBase(c.ID, c.Version, now)}, nil
}

func (c *Case) Approve(actor string, now time.Time) (*CaseApproved, error) {
	if err := c.requireStatus("approve", CaseStatusPendingReview); err != nil {
		return nil, err
	}
	if strings.TrimSpace(actor) == "" {
		return nil, apierror.Validation("approving actor is required")
	}
	at := now.UTC()
	c.Status = CaseStatusApproved
	c.ApprovedAt = &at
	c.DecidedBy = actor
	c.bump(now)
	return &CaseApproved{caseBase: newCaseBase(c.ID, c.Version, now), ApprovedBy: actor}, nil
}

func (c *Case) Reject(actor, reason string, now time.Time) (*CaseRejected, error) {
	if err := c.requireStatus("reject", CaseStatusPendingReview); err != nil {
		return nil, err
	}
	if strings.TrimSpace(actor) == "" {
		return nil, apierror.Validation("rejecting actor is required")
	}
	at := now.UTC()
	c.Status = CaseStatusRejected
	c.RejectedAt = &at
	c.DecidedBy = actor
	c.DecisionReason = reason
	c.bump(now)
	return &CaseRejected{caseBase: newCaseBase(c.ID, c.Version, now), RejectedBy: actor, Reason: reason}, nil
}

// Cancel is allowed from any status that is not terminal.
func (c *Case) Cancel(reason string, now time.Time) (*CaseCancelled, error) {
	if c.Status.IsTerminal() {
		return nil, apierror.Validation("cannot cancel case %s in status %s", c.CaseNumber, c.Status)
	}
	at := now.UTC()
	c.Status = CaseStatusCancelled
	c.CancelledAt = &at
	c.DecisionReason = reason
	c.bump(now)
	return &CaseCancelled{caseBase: newCaseBase(c.ID, c.Version, now), Reason: reason}, nil
}

// RecordRiskAssessment stores the latest assessment while the case is still open.
// Assessments older than the stored one are rejected.
func (c *Case) RecordRiskAssessment(level RiskLevel, score, source string, assessedAt, now time.Time) (*RiskAssessed, error) {
	if err := c.requireStatus("assess risk for", CaseStatusDraft, CaseStatusSubmitted, CaseStatusPendingReview); err != nil {
		return nil, err
	}
	if !level.IsAssessed() {
		return nil, apierror.Validation("unknown risk level %q", level)
	}
	if assessedAt.IsZero() {
		assessedAt = now
	}
	if c.RiskAssessedAt != nil && assessedAt.Before(*c.RiskAssessedAt) {
		return nil, apierror.Validation("risk assessment from %s is older than the current one", assessedAt.Format(time.RFC3339))
	}
	at := assessedAt.UTC()
	c.RiskLevel = level
	c.RiskAssessedAt = &at
	c.bump(now)
	return &RiskAssessed{
		caseBase:   newCaseBase(c.ID, c.Version, now),
		RiskLevel:  level,
		Score:      score,
		Source:     source,
		AssessedAt: at,
	}, nil
}

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (a Address) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Line1, validation.Required),
		validation.Field(&a.City, validation.Required),
		validation.Field(&a.Country, validation.Required, validation.Length(2, 2)),
	)
}

type ApplicantDetails struct {
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Nationality string     `json:"nationality"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone,omitempty"`
	Address     *Address   `json:"address,omitempty"`
}

func (a ApplicantDetails) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.FirstName, validation.Required),
		validation.Field(&a.LastName, validation.Required),
		validation.Field(&a.DateOfBirth, validation.Required),
		validation.Field(&a.Nationality, validation.Required, validation.Length(2, 2)),
		validation.Field(&a.Email, validation.Required),
		validation.Field(&a.Address, validation.Required),
	)
}

func (a *ApplicantDetails) progress() (int, int) {
	if a == nil {
		return 0, 6
	}
	fields := []bool{
		a.FirstName != "",
		a.LastName != "",
		a.DateOfBirth != nil,
		a.Nationality != "",
		a.Email != "",
		a.Address != nil && a.Address.Validate() == nil,
	}
	return countTrue(fields), len(fields)
}

type BusinessDetails struct {
	LegalName            string     `json:"legal_name"`
	RegistrationNumber   string     `json:"registration_number"`
	IncorporationCountry string     `json:"incorporation_country"`
	IncorporationDate    *time.Time `json:"incorporation_date,omitempty"`
	Address              *Address   `json:"address,omitempty"`
	Directors            []string   `json:"directors,omitempty"`
}

func (b BusinessDetails) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.LegalName, validation.Required),
		validation.Field(&b.RegistrationNumber, validation.Required),
		validation.Field(&b.IncorporationCountry, validation.Required, validation.Length(2, 2)),
		validation.Field(&b.Address, validation.Required),
		validation.Field(&b.Directors, validation.Required),
	)
}

func (b *BusinessDetails) progress() (int, int) {
	if b == nil {
		return 0, 5
	}
	fields := []bool{
		b.LegalName != "",
		b.RegistrationNumber != "",
		b.IncorporationCountry != "",
		b.Address != nil && b.Address.Validate() == nil,
		len(b.Directors) > 0,
	}
	return countTrue(fields), len(fields)
}

func countTrue(fields []bool) int {
	n := 0
	for _, f := range fields {
		if f {
			n++
		}
	}
	return n
}
