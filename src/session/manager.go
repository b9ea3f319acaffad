package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// 闲置超过这个时间的会话会被回收
const sessionTTL = time.Hour

// Manager 会话管理器
type Manager struct {
	sessions     map[string]*Session
	dismissDelay time.Duration
	listener     Listener
	stopChan     chan struct{}
	stopOnce     sync.Once
	mu           sync.RWMutex
}

// NewManager 创建会话管理器并启动回收协程
func NewManager(dismissDelay time.Duration) *Manager {
	m := &Manager{
		sessions:     make(map[string]*Session),
		dismissDelay: dismissDelay,
		stopChan:     make(chan struct{}),
	}
	go m.sweep()
	return m
}

// SetListener 设置状态事件监听器，必须在创建会话前调用
func (m *Manager) SetListener(listener Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = listener
}

// NewSession 创建新会话
func (m *Manager) NewSession() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	s := newSession(id, m.dismissDelay, m.listener)
	m.sessions[id] = s
	return s
}

// Get 按ID取会话
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sessions[id]
	if !exists {
		return nil, fmt.Errorf("会话不存在或已过期: %s", id)
	}
	return s, nil
}

// Remove 移除会话并丢弃其图片数据
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if exists {
		s.Reset()
	}
}

// Count 当前存活会话数量
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stop 停止回收协程
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
}

// sweep 定期回收闲置会话
func (m *Manager) sweep() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.removeExpired()
		}
	}
}

// removeExpired 移除闲置超时的会话
func (m *Manager) removeExpired() {
	now := time.Now()

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if now.Sub(s.idleSince()) > sessionTTL {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Reset()
	}
}
