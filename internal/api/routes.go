// Package api wires the engagement handlers onto the gin router.
package api

import (
	"github.com/gin-gonic/gin"

	infragin "github.com/jonesrussell/north-cloud/likechat/infrastructure/gin"
	"github.com/jonesrussell/north-cloud/likechat/infrastructure/jwt"
	infralogger "github.com/jonesrussell/north-cloud/likechat/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/likechat/infrastructure/monitoring"
	"github.com/jonesrussell/north-cloud/likechat/infrastructure/sse"
	"github.com/jonesrussell/north-cloud/likechat/internal/handler"
)

// RouteOptions carries the optional pieces of the router.
type RouteOptions struct {
	// RateLimit guards the public API. Nil disables limiting.
	RateLimit gin.HandlerFunc
	JWTSecret string
	// Live serves GET /api/v1/live. Nil leaves the route unregistered.
	Live    sse.Broker
	Memory  *monitoring.MemoryMonitor
	Handler *handler.Handler
	Log     infralogger.Logger
}

// SetupRoutes configures all API routes.
// Health and metrics routes are registered by the infrastructure gin builder.
func SetupRoutes(router *gin.Engine, opts RouteOptions) {
	if opts.Memory != nil {
		router.GET("/health/memory", monitoring.MemoryHandler(opts.Memory))
	}

	h := opts.Handler
	v1 := router.Group("/api/v1")

	public := v1.Group("")
	if opts.RateLimit != nil {
		public.Use(opts.RateLimit)
	}

	public.GET("/tasks", h.ListTasks)
	public.POST("/links", h.SubmitLink)
	public.POST("/activity/verify", h.VerifyActivity)

	users := public.Group("/users/:id")
	users.GET("/progress", h.Progress)
	users.PUT("/task-type", h.SelectTaskType)
	users.POST("/daily-claim", h.DailyClaim)
	users.GET("/eligibility", h.Eligibility)
	users.GET("/history", h.History)

	public.POST("/purchases", h.StartPurchase)
	purchases := public.Group("/purchases/:user")
	purchases.GET("", h.PurchaseStatus)
	purchases.DELETE("", h.CancelPurchase)
	purchases.POST("/report", h.ReportPurchase)
	purchases.POST("/failure", h.ReportPurchaseFailure)

	if opts.Live != nil {
		v1.GET("/live", sse.Handler(opts.Live, opts.Log))
	}

	admin := infragin.ProtectedGroup(v1, "/admin", opts.JWTSecret)
	admin.Use(jwt.RequireRole(jwt.RoleAdmin))
	admin.POST("/pins", h.PinLink)
	admin.DELETE("/links/:id", h.RemoveLink)
	admin.DELETE("/users/:id/progress", h.ResetProgress)
}
