package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/blnkfinance/onboarding/internal/apierror"
	"github.com/blnkfinance/onboarding/model"
)

// respondError writes err with the status its code maps to. Errors without a code are
// reported as internal without leaking their text.
func respondError(c *gin.Context, err error) {
	status := apierror.MapErrorToHTTPStatus(err)
	var apiErr apierror.APIError
	if !errors.As(err, &apiErr) {
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	if apiErr.Code == apierror.ErrDownstreamUnavailable {
		c.Header("Retry-After", "30")
		c.JSON(status, gin.H{"error": apiErr.Message, "code": apiErr.Code, "hint": "try again later"})
		return
	}
	c.JSON(status, gin.H{"error": apiErr.Message, "code": apiErr.Code})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func caseIDParam(c *gin.Context) (model.CaseID, bool) {
	id, err := model.ParseCaseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a valid case id"})
		return model.CaseID{}, false
	}
	return id, true
}

func workItemIDParam(c *gin.Context) (model.WorkItemID, bool) {
	id, err := model.ParseWorkItemID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a valid work item id"})
		return model.WorkItemID{}, false
	}
	return id, true
}

func intQuery(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a non-negative integer"})
		return 0, false
	}
	return n, true
}
