package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"propwatch/server/internal/database"
	"propwatch/server/internal/queue"
)

func SetupRoutes(router *gin.Engine, db *database.Database, q *queue.ListingQueue, logger *logrus.Logger) {
	router.Use(cors.Default())

	handler := NewHandler(db, q, logger)

	api := router.Group("/api")
	{
		api.GET("/properties", handler.ListProperties)
		api.POST("/properties", handler.IngestProperties)
		api.GET("/properties/:id", handler.GetProperty)
		api.GET("/properties/:id/history", handler.GetPriceHistory)
		api.GET("/properties/:id/images", handler.GetPropertyImages)
		api.POST("/properties/:id/sold", handler.MarkSold)
		api.POST("/properties/:id/removed", handler.MarkRemoved)
		api.POST("/reconcile", handler.Reconcile)
		api.POST("/maintenance/compact", handler.CompactPriceHistory)
		api.GET("/migrations", handler.ListMigrations)
	}
}
