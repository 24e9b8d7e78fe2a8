package edit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"collabClient/backend/internal/entity"
	"collabClient/backend/internal/ws"

	"golang.org/x/sync/singleflight"
)

var ErrSessionNotOpen = errors.New("SESSION_NOT_OPEN")

// Router 把收到的消息按 doc_id 路由给会话
type Router interface {
	Register(docID string, h ws.Handler)
	Unregister(docID string)
	State() entity.WsState
}

// SnapshotStore 关闭文档时保存一份纯文本快照
type SnapshotStore interface {
	SaveDocumentSnapshot(ctx context.Context, docID string, rev uint64, content string) error
}

// Manager 管理所有打开的文档会话，同一文档只会打开一次
type Manager struct {
	deps      Deps
	router    Router
	snapshots SnapshotStore
	log       *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	group    singleflight.Group
}

func NewManager(deps Deps, router Router, snapshots SnapshotStore) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Manager{
		deps:      deps,
		router:    router,
		snapshots: snapshots,
		log:       deps.Logger.With("component", "session_manager"),
		sessions:  make(map[string]*Session),
	}
}

func (m *Manager) Get(docID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[docID]
	return s, ok
}

// Open 已打开时直接返回；并发打开同一文档只会真正执行一次
func (m *Manager) Open(ctx context.Context, docID string) (*Session, error) {
	if docID == "" {
		return nil, fmt.Errorf("%w: empty doc id", entity.ErrMalformedPayload)
	}
	if s, ok := m.Get(docID); ok {
		return s, nil
	}
	v, err, _ := m.group.Do(docID, func() (any, error) {
		if s, ok := m.Get(docID); ok {
			return s, nil
		}
		deps := m.deps
		if m.router != nil {
			deps.InitialState = m.router.State()
		}
		s, err := Open(ctx, docID, deps)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.sessions[docID] = s
		m.mu.Unlock()
		if m.router != nil {
			m.router.Register(docID, s)
			// 注册前可能错过了状态变化，这里补一次
			s.StateChanged(m.router.State())
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Close 保存快照后关闭会话；快照失败只记录日志
func (m *Manager) Close(ctx context.Context, docID string) error {
	m.mu.Lock()
	s, ok := m.sessions[docID]
	delete(m.sessions, docID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotOpen, docID)
	}
	if m.router != nil {
		m.router.Unregister(docID)
	}
	m.saveSnapshot(ctx, s)
	s.Close()
	return nil
}

func (m *Manager) CloseAll(ctx context.Context) {
	for _, id := range m.DocIDs() {
		if err := m.Close(ctx, id); err != nil {
			m.log.Warn("close session failed", "doc_id", id, "err", err)
		}
	}
}

func (m *Manager) DocIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) saveSnapshot(ctx context.Context, s *Session) {
	if m.snapshots == nil {
		return
	}
	doc, err := s.Doc(ctx)
	if err != nil {
		m.log.Warn("read document for snapshot failed", "doc_id", s.DocID(), "err", err)
		return
	}
	if err := m.snapshots.SaveDocumentSnapshot(ctx, doc.ID, uint64(doc.RevID), doc.Data); err != nil {
		m.log.Warn("save snapshot failed", "doc_id", doc.ID, "rev_id", doc.RevID, "err", err)
	}
}
