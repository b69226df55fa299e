package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apimodel "github.com/blnkfinance/onboarding/api/model"
	"github.com/blnkfinance/onboarding/model"
)

func (a Api) CreateReviewer(c *gin.Context) {
	var req apimodel.CreateReviewer
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateCreateReviewer(); err != nil {
		badRequest(c, err)
		return
	}
	resp, err := a.onboarding.CreateReviewer(c.Request.Context(), req.ToReviewer())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetReviewer(c *gin.Context) {
	resp, err := a.onboarding.GetReviewer(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// SuggestReviewer proposes a reviewer for ?risk_level=, defaulting to medium.
func (a Api) SuggestReviewer(c *gin.Context) {
	level := model.DefaultRiskLevel
	if raw := c.Query("risk_level"); raw != "" {
		parsed, err := model.ParseRiskLevel(raw)
		if err != nil {
			badRequest(c, err)
			return
		}
		level = parsed
	}
	suggestion, err := a.onboarding.SuggestReviewer(c.Request.Context(), level)
	if err != nil {
		respondError(c, err)
		return
	}
	respondSuggestion(c, suggestion)
}

func respondSuggestion(c *gin.Context, suggestion *model.ReviewerSuggestion) {
	if suggestion == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no eligible reviewer"})
		return
	}
	c.JSON(http.StatusOK, suggestion)
}
