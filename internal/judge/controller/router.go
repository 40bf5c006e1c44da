// Package controller exposes the live status and Details of the current run over HTTP.
package controller

import (
	"judgebox/internal/common/http/middleware"

	"github.com/gin-gonic/gin"
)

// NewRouter registers the judge routes; verifier may be nil to disable auth.
// Extra middlewares run after tracing and before every judge route.
func NewRouter(h *JudgeController, runID string, verifier *middleware.TokenVerifier, middlewares ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.TraceContextMiddleware(runID))
	r.Use(middlewares...)

	api := r.Group("/api/v1/judge")
	if verifier != nil {
		api.Use(middleware.AuthMiddleware(verifier))
	}
	api.GET("/live", h.GetLive)
	api.GET("/details", h.GetDetails)
	api.GET("/history", h.GetHistory)
	api.GET("/stream", h.Stream)
	return r
}
