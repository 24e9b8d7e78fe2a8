package ws

import (
	"log/slog"
	"sync"

	"collabClient/backend/internal/entity"
)

// Handler 一个打开的文档会话，接收路由到它的消息和连接状态变化
type Handler interface {
	Receive(data entity.WsDocumentData)
	StateChanged(state entity.WsState)
}

// Hub 按 doc_id 把收到的消息分发给对应的会话
type Hub struct {
	log *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	state    entity.WsState
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		log:      logger.With("component", "ws_hub"),
		handlers: make(map[string]Handler),
		state:    entity.WsDisconnected,
	}
}

func (h *Hub) Register(docID string, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[docID] = handler
}

func (h *Hub) Unregister(docID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.handlers, docID)
}

func (h *Hub) State() entity.WsState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Dispatch 没有对应会话的消息直接丢弃
func (h *Hub) Dispatch(data entity.WsDocumentData) {
	h.mu.RLock()
	handler := h.handlers[data.DocID]
	h.mu.RUnlock()
	if handler == nil {
		h.log.Debug("drop message for unopened document", "doc_id", data.DocID, "ty", data.Ty)
		return
	}
	handler.Receive(data)
}

// SetState 记录连接状态并通知所有会话，状态没变时不通知
func (h *Hub) SetState(state entity.WsState) {
	h.mu.Lock()
	if h.state == state {
		h.mu.Unlock()
		return
	}
	h.state = state
	handlers := make([]Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		handlers = append(handlers, handler)
	}
	h.mu.Unlock()

	for _, handler := range handlers {
		handler.StateChanged(state)
	}
}
