package videos

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the video endpoints under rg/videos. Mutations require requireAuth.
func RegisterRoutes(rg *gin.RouterGroup, h *Handler, requireAuth gin.HandlerFunc) {
	g := rg.Group("/videos")
	g.GET("", h.List)
	g.GET("/:id", h.GetByID)
	g.POST("/:id/view", h.RecordView)
	g.POST("", requireAuth, h.Upload)
	g.PUT("/:id", requireAuth, h.Update)
	g.DELETE("/:id", requireAuth, h.Delete)
}
