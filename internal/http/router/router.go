package router

import (
	"github.com/gin-gonic/gin"

	"taskengine.dev/engine/internal/http/handler"
)

// RouterConfig holds settings the router itself needs, independent of any
// one handler's dependencies.
type RouterConfig struct {
	IsProduction bool
}

// SetupRoutes wires the task-engine's HTTP surface: submit a task, stream
// its event log, resolve a pending approval, cancel a run, and list a
// user's tasks.
func SetupRoutes(router *gin.Engine, taskHandler *handler.TaskHandler, eventHandler *handler.TaskEventHandler, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		TaskRouter(v1.Group("/tasks"), taskHandler, eventHandler)
	}
}
