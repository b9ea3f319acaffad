package task

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// WorkerPool 任务工作者池
type WorkerPool struct {
	config        ResourceConfig
	workers       []*Worker
	taskQueue     chan *Task
	stopChan      chan struct{}
	idleWorkers   chan *Worker
	clientManager *ClientManager
	mu            sync.RWMutex
}

// Worker 任务执行工作者
type Worker struct {
	id       string
	status   WorkerStatus
	taskChan chan *Task
	stopChan chan struct{}
	pool     *WorkerPool
}

// NewWorkerPool 创建工作者池
func NewWorkerPool(config ResourceConfig, clientManager *ClientManager) *WorkerPool {
	wp := &WorkerPool{
		config:        config,
		taskQueue:     make(chan *Task, config.MaxWorkers*2),
		stopChan:      make(chan struct{}),
		idleWorkers:   make(chan *Worker, config.MaxWorkers),
		clientManager: clientManager,
	}

	wp.initWorkers()
	return wp
}

// initWorkers 初始化工作者，初始时全部空闲
func (wp *WorkerPool) initWorkers() {
	wp.workers = make([]*Worker, wp.config.MaxWorkers)
	for i := 0; i < wp.config.MaxWorkers; i++ {
		worker := newWorker(fmt.Sprintf("worker-%d", i), wp)
		wp.workers[i] = worker
		wp.idleWorkers <- worker
	}
}

// Start 启动工作者池
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	for _, worker := range wp.workers {
		go worker.start()
	}

	go wp.distributeItems()
}

// Stop 停止工作者池
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	close(wp.stopChan)
	for _, worker := range wp.workers {
		worker.stop()
	}
}

// Submit 提交任务，队列满时立即返回错误
func (wp *WorkerPool) Submit(task *Task) error {
	select {
	case wp.taskQueue <- task:
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

// distributeItems 把队列中的任务分发给空闲工作者
func (wp *WorkerPool) distributeItems() {
	for {
		select {
		case <-wp.stopChan:
			return
		case task := <-wp.taskQueue:
			wp.assignTask(task)
		}
	}
}

// assignTask 把任务分配给空闲工作者，等不到时直接失败
func (wp *WorkerPool) assignTask(task *Task) {
	if _, exists := GetTaskExecutor(task.Type); !exists {
		task.Error = fmt.Errorf("no executor registered for task type: %v", task.Type)
		task.Status = TaskStatusFailed
		if task.Callback != nil {
			task.Callback.OnError(task.Error)
		}
		return
	}

	select {
	case worker := <-wp.idleWorkers:
		worker.assignTask(task)
	case <-time.After(10 * time.Second):
		task.Status = TaskStatusFailed
		task.Error = fmt.Errorf("no available workers within timeout")
		if task.ClientID != "" && wp.clientManager != nil {
			wp.clientManager.GetClientContext(task.ClientID).ResourceQuota.Release()
		}
		if task.Callback != nil {
			task.Callback.OnError(task.Error)
		}
	}
}

// workerFinished 工作者完成任务后回到空闲队列
func (wp *WorkerPool) workerFinished(worker *Worker) {
	select {
	case wp.idleWorkers <- worker:
	default:
		// 缓冲与工作者数量一致，不应该走到这里
		fmt.Printf("Warning: Failed to return worker %s to idle pool\n", worker.id)
	}
}

// newWorker 创建工作者
func newWorker(id string, pool *WorkerPool) *Worker {
	return &Worker{
		id:       id,
		status:   WorkerStatusIdle,
		taskChan: make(chan *Task, 1),
		stopChan: make(chan struct{}),
		pool:     pool,
	}
}

// start 工作者主循环
func (w *Worker) start() {
	for {
		select {
		case <-w.stopChan:
			return
		case task := <-w.taskChan:
			w.executeTask(task)
		}
	}
}

// executeTask 在超时保护下执行任务
func (w *Worker) executeTask(task *Task) {
	w.status = WorkerStatusBusy

	defer func() {
		w.status = WorkerStatusIdle
		w.pool.workerFinished(w)
		if task.ClientID != "" && w.pool.clientManager != nil {
			w.pool.clientManager.GetClientContext(task.ClientID).ResourceQuota.Release()
		}
	}()

	timeout := w.pool.config.TaskTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(task.Context, timeout)
	defer cancel()
	task.Context = ctx

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				task.Status = TaskStatusFailed
				task.Error = fmt.Errorf("task panicked: %v", r)
			}
		}()

		task.Execute()
	}()

	select {
	case <-done:
		// 任务正常结束
	case <-ctx.Done():
		task.Status = TaskStatusFailed
		task.Error = ctx.Err()
		if task.Callback != nil {
			task.Callback.OnError(task.Error)
		}
	}
}

// stop 停止工作者
func (w *Worker) stop() {
	w.status = WorkerStatusStopped
	close(w.stopChan)
}

// assignTask 投递任务给工作者
func (w *Worker) assignTask(task *Task) {
	select {
	case w.taskChan <- task:
	default:
		// taskChan有缓冲，不应该走到这里
		fmt.Printf("Warning: Failed to assign task to worker %s\n", w.id)
	}
}
