package kb

import "time"

// TaskStatus 摄取任务状态机：PENDING → PROCESSING → {COMPLETED | FAILED | CANCELLED}。
// PENDING 可直接进入 CANCELLED（worker 取走前被取消）。
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskProcessing TaskStatus = "PROCESSING"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
	TaskCancelled  TaskStatus = "CANCELLED"
)

// Terminal 右侧三个状态均为终态
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// ProcessingTask 一个异步摄取任务。progress 单调不减，仅 COMPLETED 时为 1.0。
type ProcessingTask struct {
	ID           string     `json:"id"`
	CollectionID string     `json:"collection_id"`
	Filename     string     `json:"filename"`
	FilePath     string     `json:"-"`
	DocType      string     `json:"doc_type"`
	Status       TaskStatus `json:"status"`
	Progress     float64    `json:"progress"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Warnings     []string   `json:"warnings,omitempty"`
	DocumentID   string     `json:"document_id,omitempty"`
	ChunkCount   int        `json:"chunk_count"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    time.Time  `json:"started_at,omitempty"`
	CompletedAt  time.Time  `json:"completed_at,omitempty"`
}
