package service

import (
	"time"

	"QuizGazer/internal/modules/knowledge/domain/kb"
	"QuizGazer/internal/modules/knowledge/infrastructure/queue"
)

// TaskService 摄取任务查询与控制，状态通过轮询获取
type TaskService interface {
	GetTask(taskID string) (*kb.ProcessingTask, error)
	// CancelTask 返回取消请求是否被接受（终态任务返回 false）
	CancelTask(taskID string) (bool, error)
	ListActiveTasks() []kb.ProcessingTask
	// CleanupTasks 按配置的保留时长清除终态任务，返回清除数量
	CleanupTasks() int
}

type taskServiceImpl struct {
	tasks *queue.TaskManager
}

func NewTaskService(tasks *queue.TaskManager) TaskService {
	return &taskServiceImpl{tasks: tasks}
}

func (s *taskServiceImpl) GetTask(taskID string) (*kb.ProcessingTask, error) {
	return s.tasks.GetStatus(taskID)
}

func (s *taskServiceImpl) CancelTask(taskID string) (bool, error) {
	return s.tasks.Cancel(taskID)
}

func (s *taskServiceImpl) ListActiveTasks() []kb.ProcessingTask {
	active := s.tasks.ListActive()
	if active == nil {
		active = []kb.ProcessingTask{}
	}
	return active
}

func (s *taskServiceImpl) CleanupTasks() int {
	retention := s.tasks.Retention()
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return s.tasks.Cleanup(retention)
}
