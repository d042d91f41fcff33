package http

import (
	"QuizGazer/internal/modules/knowledge/application/service"
	"QuizGazer/pkg/back"

	"github.com/gin-gonic/gin"
)

// TaskHandler 摄取任务轮询与控制 HTTP Handler
type TaskHandler struct {
	taskSvc service.TaskService
}

func NewTaskHandler(taskSvc service.TaskService) *TaskHandler {
	return &TaskHandler{taskSvc: taskSvc}
}

// GetTask 路由: GET /kb/tasks/:id
func (h *TaskHandler) GetTask(c *gin.Context) {
	data, err := h.taskSvc.GetTask(c.Param("id"))
	back.Result(c, data, err)
}

// CancelTask 路由: POST /kb/tasks/:id/cancel
func (h *TaskHandler) CancelTask(c *gin.Context) {
	accepted, err := h.taskSvc.CancelTask(c.Param("id"))
	back.Result(c, gin.H{"accepted": accepted}, err)
}

// ListActiveTasks 路由: GET /kb/tasks
func (h *TaskHandler) ListActiveTasks(c *gin.Context) {
	back.Result(c, h.taskSvc.ListActiveTasks(), nil)
}

// CleanupTasks 路由: POST /kb/tasks/cleanup
func (h *TaskHandler) CleanupTasks(c *gin.Context) {
	back.Result(c, gin.H{"removed": h.taskSvc.CleanupTasks()}, nil)
}
