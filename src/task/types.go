package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskType 异步任务类型
type TaskType string

// TaskStatus 任务当前状态
type TaskStatus string

// TaskExecutor 任务执行函数签名
type TaskExecutor func(t *Task) error

const (
	// TaskTypeConvert 图片格式转换任务
	TaskTypeConvert TaskType = "convert"
)

const (
	TaskStatusPending  TaskStatus = "pending"
	TaskStatusRunning  TaskStatus = "running"
	TaskStatusComplete TaskStatus = "complete"
	TaskStatusFailed   TaskStatus = "failed"
)

// TaskRegistry 任务类型到执行器的映射
type TaskRegistry struct {
	executors map[TaskType]TaskExecutor
	mu        sync.RWMutex
}

// 全局任务注册表
var taskRegistry = &TaskRegistry{
	executors: make(map[TaskType]TaskExecutor),
}

// RegisterTaskExecutor 注册任务类型的执行器
func RegisterTaskExecutor(taskType TaskType, executor TaskExecutor) {
	taskRegistry.mu.Lock()
	defer taskRegistry.mu.Unlock()
	taskRegistry.executors[taskType] = executor
}

// GetTaskExecutor 获取任务类型的执行器
func GetTaskExecutor(taskType TaskType) (TaskExecutor, bool) {
	taskRegistry.mu.RLock()
	defer taskRegistry.mu.RUnlock()
	executor, exists := taskRegistry.executors[taskType]
	return executor, exists
}

// Task 异步任务
type Task struct {
	ID        string
	Type      TaskType
	Status    TaskStatus
	Params    interface{}
	Result    interface{}
	Error     error
	Callback  TaskCallback
	CreatedAt time.Time
	UpdatedAt time.Time
	ClientID  string
	Context   context.Context
}

// NewTask 创建新任务
func NewTask(ctx context.Context, taskType TaskType, params interface{}) (task *Task, id string) {
	id = uuid.New().String()
	return &Task{
		ID:        id,
		Type:      taskType,
		Status:    TaskStatusPending,
		Params:    params,
		CreatedAt: time.Now(),
		Context:   ctx,
	}, id
}

// Execute 执行任务并触发回调
func (t *Task) Execute() {
	defer func() {
		if r := recover(); r != nil {
			t.Status = TaskStatusFailed
			t.Error = fmt.Errorf("task panicked: %v", r)
			if t.Callback != nil {
				t.Callback.OnError(t.Error)
			}
		}
	}()

	select {
	case <-t.Context.Done():
		t.Status = TaskStatusFailed
		t.Error = t.Context.Err()
		if t.Callback != nil {
			t.Callback.OnError(t.Error)
		}
		return
	default:
	}

	t.Status = TaskStatusRunning
	t.UpdatedAt = time.Now()

	executor, exists := GetTaskExecutor(t.Type)
	if !exists {
		t.Error = fmt.Errorf("no executor registered for task type: %v", t.Type)
		t.Status = TaskStatusFailed
	} else {
		t.Error = executor(t)
	}

	if t.Error != nil {
		t.Status = TaskStatusFailed
		if t.Callback != nil {
			t.Callback.OnError(t.Error)
		}
	} else {
		t.Status = TaskStatusComplete
		if t.Callback != nil {
			t.Callback.OnComplete(t.Result)
		}
	}
}

// TaskCallback 任务完成回调接口
type TaskCallback interface {
	OnComplete(result interface{})
	OnError(err error)
}

// WorkerStatus 工作者状态
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// ResourceConfig 任务执行资源限制
type ResourceConfig struct {
	MaxWorkers     int           // 工作者数量
	MaxTasksPerDay int           // 每客户端每日任务配额
	MaxConcurrent  int           // 每客户端并发任务上限
	TaskTimeout    time.Duration // 单任务超时
}
