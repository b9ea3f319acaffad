package task

import (
	"fmt"
	"sync"
	"time"
)

// ResourceQuota 单个客户端的任务配额
type ResourceQuota struct {
	MaxDailyTasks int       // 每日任务配额
	MaxConcurrent int       // 并发任务上限
	UsedToday     int       // 今日已用配额
	Running       int       // 运行中任务数
	LastResetDate time.Time // 上次配额重置时间
	mu            sync.Mutex
}

// NewResourceQuota 创建配额实例
func NewResourceQuota(maxDaily, maxConcurrent int) *ResourceQuota {
	return &ResourceQuota{
		MaxDailyTasks: maxDaily,
		MaxConcurrent: maxConcurrent,
		LastResetDate: time.Now(),
	}
}

// TryAcquire 原子检查并占用配额，失败时不产生副作用
func (rq *ResourceQuota) TryAcquire() error {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	rq.maybeResetLocked()

	if rq.UsedToday >= rq.MaxDailyTasks {
		return fmt.Errorf("今日转换配额已用完（%d次）", rq.MaxDailyTasks)
	}
	if rq.Running >= rq.MaxConcurrent {
		return fmt.Errorf("已有转换正在进行")
	}

	rq.UsedToday++
	rq.Running++
	return nil
}

// Release 任务结束，释放并发名额
func (rq *ResourceQuota) Release() {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if rq.Running > 0 {
		rq.Running--
	}
}

// Rollback 提交失败时回滚配额占用
func (rq *ResourceQuota) Rollback() {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if rq.UsedToday > 0 {
		rq.UsedToday--
	}
	if rq.Running > 0 {
		rq.Running--
	}
}

// maybeResetLocked 跨天时重置每日配额，调用方必须持有锁
func (rq *ResourceQuota) maybeResetLocked() {
	now := time.Now()
	if now.YearDay() != rq.LastResetDate.YearDay() || now.Year() != rq.LastResetDate.Year() {
		rq.UsedToday = 0
		rq.LastResetDate = now
	}
}

// ClientContext 客户端上下文
type ClientContext struct {
	ID            string
	ResourceQuota *ResourceQuota
}

// ClientManager 管理客户端上下文
type ClientManager struct {
	clients map[string]*ClientContext
	config  ResourceConfig
	mu      sync.RWMutex
}

// NewClientManager 创建客户端管理器
func NewClientManager(config ResourceConfig) *ClientManager {
	return &ClientManager{
		clients: make(map[string]*ClientContext),
		config:  config,
	}
}

// GetClientContext 获取或创建客户端上下文
func (cm *ClientManager) GetClientContext(clientID string) *ClientContext {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if ctx, exists := cm.clients[clientID]; exists {
		return ctx
	}

	ctx := &ClientContext{
		ID:            clientID,
		ResourceQuota: NewResourceQuota(cm.config.MaxTasksPerDay, cm.config.MaxConcurrent),
	}

	cm.clients[clientID] = ctx
	return ctx
}

// RemoveClient 移除客户端上下文
func (cm *ClientManager) RemoveClient(clientID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.clients, clientID)
}
