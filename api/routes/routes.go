package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/waybill-processor/api/handlers"
	"github.com/feichai0017/waybill-processor/api/middleware"
	"github.com/feichai0017/waybill-processor/pkg/logger"
)

// SetupRoutes registers every route. metricsHandler may be nil.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, metricsHandler http.Handler, log logger.Logger) {
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(log))
	r.Use(middleware.CORS())

	r.GET("/health", h.Health.Health)
	if metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}

	v1 := r.Group("/api/v1")

	docs := v1.Group("/documents")
	{
		docs.GET("", h.Document.ListDocuments)
		docs.GET("/export", h.Document.ExportDocuments)
		docs.GET("/:id", h.Document.GetDocument)
		docs.GET("/:id/render", h.Document.RenderDocument)
		docs.POST("/:id/confirm", h.Document.ConfirmDocument)
		docs.POST("/:id/reshoot", h.Document.ReshootDocument)
		docs.POST("/:id/retry", h.Document.RetryDelivery)
		docs.PATCH("/:id/fields/:field", h.Document.UpdateField)
	}
}
