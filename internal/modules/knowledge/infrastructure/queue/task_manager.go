package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"QuizGazer/internal/config"
	"QuizGazer/internal/modules/knowledge/domain/kb"
	"QuizGazer/pkg/util"
	"QuizGazer/pkg/xerr"
	"QuizGazer/pkg/zlog"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunResult 任务执行成功后的产出
type RunResult struct {
	DocumentID string
	ChunkCount int
	Warnings   []string
}

// Runner 执行单个摄取任务。progress 回调报告 [0,1) 进度，
// 实现方应在分块、批次、写入等检查点响应 ctx 取消。
type Runner interface {
	Run(ctx context.Context, task kb.ProcessingTask, progress func(float64)) (RunResult, error)
}

const queueCapacity = 256

type taskEntry struct {
	task   kb.ProcessingTask
	cancel context.CancelFunc // 仅 PROCESSING 阶段非 nil
}

// TaskManager 固定大小的 worker 池消费缓冲队列。
// 任务状态只能通过轮询 GetStatus 获取。
type TaskManager struct {
	runner    Runner
	workers   int
	retention time.Duration

	mu      sync.Mutex
	tasks   map[string]*taskEntry
	queue   chan string
	wg      sync.WaitGroup
	started bool
	stopped bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

func NewTaskManager(runner Runner, conf *config.Config) *TaskManager {
	kbConf := conf.KnowledgeBaseConfig
	return &TaskManager{
		runner:    runner,
		workers:   kbConf.MaxConcurrentTasks,
		retention: time.Duration(kbConf.TaskRetentionHours) * time.Hour,
		tasks:     make(map[string]*taskEntry),
		queue:     make(chan string, queueCapacity),
	}
}

// Start 启动 worker 池，重复调用是 no-op
func (m *TaskManager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.baseCtx, m.baseCancel = context.WithCancel(ctx)
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.workerLoop(i)
	}
	zlog.Info("task manager started", zap.Int("workers", m.workers))
}

// SubmitRequest 任务描述，提交后立刻返回任务 ID
type SubmitRequest struct {
	CollectionID string
	Filename     string
	FilePath     string
	DocType      string
}

func (m *TaskManager) Submit(req SubmitRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.stopped {
		return "", xerr.New(xerr.ServiceUnavailable, "task manager is not running")
	}

	id := uuid.NewString()
	entry := &taskEntry{task: kb.ProcessingTask{
		ID:           id,
		CollectionID: req.CollectionID,
		Filename:     req.Filename,
		FilePath:     req.FilePath,
		DocType:      req.DocType,
		Status:       kb.TaskPending,
		CreatedAt:    time.Now(),
	}}

	select {
	case m.queue <- id:
		m.tasks[id] = entry
	default:
		return "", xerr.New(xerr.ServiceUnavailable, "task queue is full")
	}

	zlog.Info("task submitted",
		zap.String("taskId", id),
		zap.String("collectionId", req.CollectionID),
		zap.String("filename", req.Filename))
	return id, nil
}

// GetStatus 返回任务快照副本
func (m *TaskManager) GetStatus(id string) (*kb.ProcessingTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.tasks[id]
	if !ok {
		return nil, xerr.New(xerr.TaskNotFound, fmt.Sprintf("task %s not found", id))
	}
	snapshot := entry.task
	snapshot.Warnings = append([]string(nil), entry.task.Warnings...)
	return &snapshot, nil
}

// Cancel 取消任务。PENDING 直接置 CANCELLED，PROCESSING 发协作取消信号，
// 终态任务返回 false。
func (m *TaskManager) Cancel(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.tasks[id]
	if !ok {
		return false, xerr.New(xerr.TaskNotFound, fmt.Sprintf("task %s not found", id))
	}
	switch entry.task.Status {
	case kb.TaskPending:
		entry.task.Status = kb.TaskCancelled
		entry.task.CompletedAt = time.Now()
		zlog.Info("pending task cancelled", zap.String("taskId", id))
		return true, nil
	case kb.TaskProcessing:
		if entry.cancel != nil {
			entry.cancel()
		}
		zlog.Info("cancel signalled to running task", zap.String("taskId", id))
		return true, nil
	default:
		return false, nil
	}
}

// ListActive 返回 PENDING 与 PROCESSING 任务快照
func (m *TaskManager) ListActive() []kb.ProcessingTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active []kb.ProcessingTask
	for _, entry := range m.tasks {
		if !entry.task.Status.Terminal() {
			active = append(active, entry.task)
		}
	}
	return active
}

// Cleanup 清除完成时间早于 olderThan 的终态任务，返回清除数量
func (m *TaskManager) Cleanup(olderThan time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for id, entry := range m.tasks {
		if entry.task.Status.Terminal() && entry.task.CompletedAt.Before(cutoff) {
			delete(m.tasks, id)
			removed++
		}
	}
	if removed > 0 {
		zlog.Info("cleaned up finished tasks", zap.Int("removed", removed))
	}
	return removed
}

// Retention 配置的终态任务保留时长，给定时清理用
func (m *TaskManager) Retention() time.Duration {
	return m.retention
}

// Shutdown 停止接收新任务并等待在途任务结束。
// ctx 到期后强制取消所有 worker。
func (m *TaskManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.started || m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	close(m.queue)
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		zlog.Info("task manager drained")
		return nil
	case <-ctx.Done():
		m.baseCancel()
		<-done
		zlog.Warn("task manager shutdown forced", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

func (m *TaskManager) workerLoop(worker int) {
	defer m.wg.Done()
	for id := range m.queue {
		m.runTask(worker, id)
	}
}

func (m *TaskManager) runTask(worker int, id string) {
	m.mu.Lock()
	entry, ok := m.tasks[id]
	if !ok || entry.task.Status != kb.TaskPending {
		// 排队期间被取消或清理
		m.mu.Unlock()
		return
	}
	taskCtx, cancel := context.WithCancel(m.baseCtx)
	entry.task.Status = kb.TaskProcessing
	entry.task.StartedAt = time.Now()
	entry.cancel = cancel
	snapshot := entry.task
	m.mu.Unlock()
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			zlog.Error("task panicked",
				zap.String("taskId", id),
				zap.Any("panic", r))
			m.finish(id, kb.TaskFailed, RunResult{}, fmt.Sprintf("internal error: %v", r))
		}
	}()

	zlog.Info("task started",
		zap.Int("worker", worker),
		zap.String("taskId", id),
		zap.String("filename", snapshot.Filename))

	result, err := m.runner.Run(taskCtx, snapshot, func(p float64) {
		m.setProgress(id, p)
	})

	switch {
	case err == nil:
		m.finish(id, kb.TaskCompleted, result, "")
	case taskCtx.Err() != nil:
		m.finish(id, kb.TaskCancelled, RunResult{}, "")
	default:
		m.finish(id, kb.TaskFailed, RunResult{}, util.ScrubErrMsg(err.Error()))
	}
}

// setProgress 进度单调不减，运行期间封顶在 1.0 以下
func (m *TaskManager) setProgress(id string, p float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.tasks[id]
	if !ok || entry.task.Status != kb.TaskProcessing {
		return
	}
	if p > 0.99 {
		p = 0.99
	}
	if p > entry.task.Progress {
		entry.task.Progress = p
	}
}

func (m *TaskManager) finish(id string, status kb.TaskStatus, result RunResult, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.tasks[id]
	if !ok || entry.task.Status.Terminal() {
		return
	}
	entry.task.Status = status
	entry.task.CompletedAt = time.Now()
	entry.cancel = nil
	switch status {
	case kb.TaskCompleted:
		entry.task.Progress = 1.0
		entry.task.DocumentID = result.DocumentID
		entry.task.ChunkCount = result.ChunkCount
		entry.task.Warnings = result.Warnings
		zlog.Info("task completed",
			zap.String("taskId", id),
			zap.String("documentId", result.DocumentID),
			zap.Int("chunks", result.ChunkCount))
	case kb.TaskFailed:
		entry.task.ErrorMessage = errMsg
		zlog.Error("task failed", zap.String("taskId", id), zap.String("error", errMsg))
	case kb.TaskCancelled:
		zlog.Info("task cancelled", zap.String("taskId", id))
	}
}
