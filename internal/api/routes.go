package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes mounts the API surface on the given engine.
func RegisterRoutes(r *gin.Engine, h *Handlers) {
	r.GET("/healthz", h.HandleHealthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/vendors", h.HandleRegisterVendor)
		v1.GET("/vendors", h.HandleListVendors)
		v1.GET("/vendors/:id", h.HandleGetVendor)

		v1.POST("/rfps/generate", h.HandleGenerateRFP)
		v1.POST("/rfps", h.HandleCreateRFP)
		v1.GET("/rfps", h.HandleListRFPs)
		v1.GET("/rfps/:id", h.HandleGetRFP)
		v1.POST("/rfps/:id/vendors", h.HandleAssignVendors)
		v1.POST("/rfps/:id/send", h.HandleSendRFP)
		v1.GET("/rfps/:id/proposals", h.HandleListProposals)

		v1.GET("/jobs", h.HandleListJobs)
	}
}
