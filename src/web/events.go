package web

import (
	"encoding/json"
	"net/http"
	"sync"

	"pixport-server-go/src/core/utils"
	"pixport-server-go/src/session"

	"github.com/gorilla/websocket"
)

// Upgrader WebSocket升级器接口
type Upgrader interface {
	Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error)
}

// Conn WebSocket连接接口
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// EventHub 按会话推送状态事件给已连接的客户端
// 客户端据此重绘屏幕与"转换中"指示，推送失败只断开该连接
type EventHub struct {
	upgrader Upgrader
	logger   *utils.Logger
	conns    map[string]map[Conn]struct{} // sessionID -> 连接集合
	mu       sync.RWMutex
}

// NewEventHub 创建事件推送中心
func NewEventHub(logger *utils.Logger) *EventHub {
	return &EventHub{
		upgrader: NewDefaultUpgrader(),
		logger:   logger,
		conns:    make(map[string]map[Conn]struct{}),
	}
}

// Publish 把状态事件推送给该会话的所有连接
func (h *EventHub) Publish(event session.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("状态事件序列化失败", map[string]interface{}{
			"session_id": event.SessionID,
			"error":      err.Error(),
		})
		return
	}

	h.mu.RLock()
	conns := make([]Conn, 0, len(h.conns[event.SessionID]))
	for conn := range h.conns[event.SessionID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.detach(event.SessionID, conn)
		}
	}
}

// Serve 升级连接并挂到会话上，阻塞到连接关闭
func (h *EventHub) Serve(w http.ResponseWriter, r *http.Request, sessionID string) error {
	conn, err := h.upgrader.Upgrade(w, r)
	if err != nil {
		return err
	}

	h.attach(sessionID, conn)
	defer h.detach(sessionID, conn)

	// 只读不处理，用于感知客户端断开
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}

// attach 挂接连接
func (h *EventHub) attach(sessionID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[sessionID] == nil {
		h.conns[sessionID] = make(map[Conn]struct{})
	}
	h.conns[sessionID][conn] = struct{}{}
}

// detach 摘除并关闭连接
func (h *EventHub) detach(sessionID string, conn Conn) {
	h.mu.Lock()
	if set, exists := h.conns[sessionID]; exists {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.conns, sessionID)
		}
	}
	h.mu.Unlock()

	conn.Close()
}

// defaultUpgrader 默认的WebSocket升级器实现
type defaultUpgrader struct {
	wsUpgrader *websocket.Upgrader
}

// NewDefaultUpgrader 创建默认的WebSocket升级器
func NewDefaultUpgrader() Upgrader {
	return &defaultUpgrader{
		wsUpgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源的连接
			},
		},
	}
}

// websocketConn 封装gorilla/websocket的连接实现
type websocketConn struct {
	conn *websocket.Conn
}

func (w *websocketConn) ReadMessage() (messageType int, p []byte, err error) {
	return w.conn.ReadMessage()
}

func (w *websocketConn) WriteMessage(messageType int, data []byte) error {
	return w.conn.WriteMessage(messageType, data)
}

func (w *websocketConn) Close() error {
	return w.conn.Close()
}

// Upgrade 实现Upgrader接口
func (u *defaultUpgrader) Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error) {
	conn, err := u.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &websocketConn{conn: conn}, nil
}
