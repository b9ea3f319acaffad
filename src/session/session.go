package session

import (
	"fmt"
	"sync"
	"time"

	img "pixport-server-go/src/core/image"
)

// State 会话界面状态，三个互斥屏幕
type State string

const (
	StateIdle    State = "idle"    // 等待上传
	StateEditing State = "editing" // 已上传，可选择目标格式
	StateResult  State = "result"  // 转换完成，可下载
)

// Event 推送给客户端的状态事件
type Event struct {
	SessionID    string `json:"session_id"`
	State        State  `json:"state"`
	Converting   bool   `json:"converting"`
	ErrorVisible bool   `json:"error_visible"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Listener 状态事件监听器
type Listener func(event Event)

// Session 显式会话对象，持有当前的上传/解码对
// 同一时刻至多一对存活，重新上传或重置都会丢弃旧数据
type Session struct {
	ID string

	mu             sync.Mutex
	state          State
	decoded        *img.DecodedImage
	result         *img.ConversionResult
	resultFilename string
	converting     bool // 防止转换重入
	errMessage     string
	errTimer       *time.Timer
	dismissDelay   time.Duration
	listener       Listener
	lastActive     time.Time
}

// newSession 创建新会话，初始状态为Idle
func newSession(id string, dismissDelay time.Duration, listener Listener) *Session {
	return &Session{
		ID:           id,
		state:        StateIdle,
		dismissDelay: dismissDelay,
		listener:     listener,
		lastActive:   time.Now(),
	}
}

// notifyLocked 推送当前状态，调用方必须持有锁
func (s *Session) notifyLocked() {
	if s.listener == nil {
		return
	}
	event := Event{
		SessionID:    s.ID,
		State:        s.state,
		Converting:   s.converting,
		ErrorVisible: s.errMessage != "",
		ErrorMessage: s.errMessage,
	}
	// 监听器不在锁内执行
	go s.listener(event)
}

// SetUpload 放入新的解码结果，丢弃旧的上传/解码对，进入Editing
func (s *Session) SetUpload(decoded *img.DecodedImage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.decoded = decoded
	s.result = nil
	s.resultFilename = ""
	s.state = StateEditing
	s.lastActive = time.Now()
	s.notifyLocked()
}

// Decoded 取当前解码结果，没有上传时返回nil
func (s *Session) Decoded() *img.DecodedImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decoded
}

// BeginConvert 进入转换流程
// 没有存活图片或已有转换在进行时拒绝
func (s *Session) BeginConvert() (*img.DecodedImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.decoded == nil {
		return nil, fmt.Errorf("当前会话没有已上传的图片")
	}
	if s.converting {
		return nil, fmt.Errorf("已有转换正在进行")
	}

	s.converting = true
	s.lastActive = time.Now()
	s.notifyLocked()
	return s.decoded, nil
}

// CompleteConvert 转换成功，保存结果并进入Result
func (s *Session) CompleteConvert(result *img.ConversionResult, filename string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.converting = false
	s.result = result
	s.resultFilename = filename
	s.state = StateResult
	s.lastActive = time.Now()
	s.notifyLocked()
}

// FailConvert 转换失败，留在当前屏幕并弹出错误提示
func (s *Session) FailConvert(message string) {
	s.mu.Lock()
	s.converting = false
	s.mu.Unlock()
	s.ShowError(message)
}

// Result 取最近一次转换结果
func (s *Session) Result() (*img.ConversionResult, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.resultFilename
}

// ShowError 显示错误提示，从任何状态都可进入，到期自动消失
func (s *Session) ShowError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errMessage = message
	if s.errTimer != nil {
		s.errTimer.Stop()
	}
	s.errTimer = time.AfterFunc(s.dismissDelay, s.dismissError)
	s.notifyLocked()
}

// dismissError 清除错误提示
func (s *Session) dismissError() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.errMessage == "" {
		return
	}
	s.errMessage = ""
	s.notifyLocked()
}

// Reset 无条件回到Idle，丢弃所有图片数据
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.decoded = nil
	s.result = nil
	s.resultFilename = ""
	s.converting = false
	s.errMessage = ""
	if s.errTimer != nil {
		s.errTimer.Stop()
		s.errTimer = nil
	}
	s.state = StateIdle
	s.lastActive = time.Now()
	s.notifyLocked()
}

// Snapshot 取当前状态快照
func (s *Session) Snapshot() Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Event{
		SessionID:    s.ID,
		State:        s.state,
		Converting:   s.converting,
		ErrorVisible: s.errMessage != "",
		ErrorMessage: s.errMessage,
	}
}

// State 取当前屏幕状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// idleSince 最近一次活动时间
func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}
