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
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/blnkfinance/onboarding"
	"github.com/blnkfinance/onboarding/api/middleware"
	"github.com/blnkfinance/onboarding/config"
)

type Api struct {
	onboarding *onboarding.Onboarding
	router     *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/cases", a.CreateCase)
	router.GET("/cases/:id", a.GetCase)
	router.PUT("/cases/:id/applicant", a.UpdateApplicant)
	router.PUT("/cases/:id/business", a.UpdateBusiness)
	router.POST("/cases/:id/submit", a.SubmitCase)
	router.POST("/cases/:id/review", a.MoveCaseToReview)
	router.POST("/cases/:id/approve", a.ApproveCase)
	router.POST("/cases/:id/reject", a.RejectCase)
	router.POST("/cases/:id/cancel", a.CancelCase)
	router.POST("/cases/:id/risk", a.RecordRiskAssessment)
	router.POST("/cases/:id/assess", a.AssessRisk)
	router.GET("/cases/:id/work-item", a.GetWorkItemByCase)

	router.GET("/views/cases", a.ListCaseViews)
	router.GET("/views/cases/:id", a.GetCaseView)
	router.POST("/views/cases/:id/rebuild", a.RebuildCaseView)
	router.GET("/dashboard", a.Dashboard)

	router.GET("/work-items/:id", a.GetWorkItem)
	router.POST("/work-items/:id/assign", a.AssignWorkItem)
	router.POST("/work-items/:id/start-review", a.StartReview)
	router.POST("/work-items/:id/submit-for-approval", a.SubmitForApproval)
	router.POST("/work-items/:id/approve", a.ApproveWorkItem)
	router.POST("/work-items/:id/complete", a.CompleteWorkItem)
	router.POST("/work-items/:id/decline", a.DeclineWorkItem)
	router.POST("/work-items/:id/escalate", a.EscalateWorkItem)
	router.POST("/work-items/:id/reopen", a.ReopenWorkItem)
	router.PUT("/work-items/:id/due-date", a.SetWorkItemDueDate)
	router.POST("/work-items/:id/refresh", a.ForceRefresh)
	router.GET("/work-items/:id/suggested-reviewer", a.SuggestReviewerForWorkItem)
	router.GET("/queue/overdue", a.ListOverdueWorkItems)

	router.POST("/reviewers", a.CreateReviewer)
	router.GET("/reviewers/suggest", a.SuggestReviewer)
	router.GET("/reviewers/:id", a.GetReviewer)

	return a.router
}

func NewAPI(o *onboarding.Onboarding) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("onboarding"))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware(conf.Server.SecretKey))
	}
	r.Use(middleware.ActorMiddleware())
	r.Use(middleware.RequestLogger())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})
	a := &Api{onboarding: o, router: r}
	r.GET("/health", a.Health)
	return a
}

// Health reports the circuit state of each downstream and the configured risk providers.
func (a Api) Health(c *gin.Context) {
	gw := a.onboarding.Gateway()
	breakers := gin.H{}
	for _, d := range []string{onboarding.DownstreamEvents, onboarding.DownstreamAudit, onboarding.DownstreamNotification, onboarding.DownstreamRisk} {
		breakers[d] = gw.State(d)
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"breakers":       breakers,
		"risk_providers": a.onboarding.Risk().Names(),
	})
}
