package router

import (
	"github.com/gin-gonic/gin"

	"taskengine.dev/engine/internal/http/handler"
)

// TaskRouter wires the task-engine's REST + SSE surface under the group it
// is handed (typically /api/v1/tasks).
func TaskRouter(rg *gin.RouterGroup, taskHandler *handler.TaskHandler, eventHandler *handler.TaskEventHandler) {
	rg.POST("", taskHandler.StartTask)
	rg.GET("", taskHandler.ListTasks)
	rg.GET("/:task_id", taskHandler.GetTask)
	rg.GET("/:task_id/events", eventHandler.StreamTaskEvents)
	rg.POST("/:task_id/cancel", taskHandler.CancelTask)
	rg.POST("/:task_id/approvals/:approval_id", taskHandler.ApproveAction)
}
