package task

import (
	"fmt"
)

// TaskManager 异步任务管理器
type TaskManager struct {
	workerPool    *WorkerPool
	clientManager *ClientManager
}

// NewTaskManager 创建任务管理器
func NewTaskManager(config ResourceConfig) *TaskManager {
	clientManager := NewClientManager(config)
	return &TaskManager{
		clientManager: clientManager,
		workerPool:    NewWorkerPool(config, clientManager),
	}
}

// Start 启动任务管理器
func (tm *TaskManager) Start() {
	tm.workerPool.Start()
}

// Stop 停止任务管理器
func (tm *TaskManager) Stop() {
	tm.workerPool.Stop()
}

// SubmitTask 提交任务，占用客户端配额，提交失败时回滚
func (tm *TaskManager) SubmitTask(clientID string, task *Task) error {
	if _, exists := GetTaskExecutor(task.Type); !exists {
		return fmt.Errorf("task type %v is not registered", task.Type)
	}

	ctx := tm.clientManager.GetClientContext(clientID)

	if err := ctx.ResourceQuota.TryAcquire(); err != nil {
		return err
	}

	task.ClientID = clientID

	if err := tm.workerPool.Submit(task); err != nil {
		ctx.ResourceQuota.Rollback()
		return err
	}

	return nil
}

// RemoveClient 移除客户端及其配额记录
func (tm *TaskManager) RemoveClient(clientID string) {
	tm.clientManager.RemoveClient(clientID)
}
