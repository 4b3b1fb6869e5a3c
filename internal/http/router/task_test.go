package router_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"taskengine.dev/engine/internal/http/handler"
	"taskengine.dev/engine/internal/http/router"
)

func TestTaskRouterWiresExpectedRoutes(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	taskHandler := handler.NewTaskHandler(nil, nil, nil, nil)
	eventHandler := handler.NewTaskEventHandler(nil)

	engine := gin.New()
	group := engine.Group("/api/v1/tasks")
	router.TaskRouter(group, taskHandler, eventHandler)

	routes := engine.Routes()
	want := map[string]bool{
		"POST /api/v1/tasks":                                 false,
		"GET /api/v1/tasks":                                  false,
		"GET /api/v1/tasks/:task_id":                         false,
		"GET /api/v1/tasks/:task_id/events":                  false,
		"POST /api/v1/tasks/:task_id/cancel":                 false,
		"POST /api/v1/tasks/:task_id/approvals/:approval_id": false,
	}
	for _, r := range routes {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		if !found {
			t.Errorf("route %q was not registered", route)
		}
	}
}

func TestTaskRouterRejectsUnknownMethod(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	taskHandler := handler.NewTaskHandler(nil, nil, nil, nil)
	eventHandler := handler.NewTaskEventHandler(nil)

	engine := gin.New()
	group := engine.Group("/api/v1/tasks")
	router.TaskRouter(group, taskHandler, eventHandler)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/tasks/7", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
