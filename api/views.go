package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blnkfinance/onboarding/model"
)

// GetCaseView returns the denormalised case view. Views lag the write side by the time it
// takes the event to flow through the channel.
func (a Api) GetCaseView(c *gin.Context) {
	id, ok := caseIDParam(c)
	if !ok {
		return
	}
	resp, err := a.onboarding.GetCaseView(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) ListCaseViews(c *gin.Context) {
	var filter model.ProjectionFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		badRequest(c, err)
		return
	}
	if filter.RiskLevel != "" {
		level, err := model.ParseRiskLevel(string(filter.RiskLevel))
		if err != nil {
			badRequest(c, err)
			return
		}
		filter.RiskLevel = level
	}

	views, err := a.onboarding.ListCases(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (a Api) Dashboard(c *gin.Context) {
	resp, err := a.onboarding.Dashboard(c.Request.Context(), c.Query("partner_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// RebuildCaseView discards the stored view and replays the case's event log.
func (a Api) RebuildCaseView(c *gin.Context) {
	id, ok := caseIDParam(c)
	if !ok {
		return
	}
	resp, err := a.onboarding.RebuildProjection(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
