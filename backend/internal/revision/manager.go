package revision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"collabClient/backend/internal/entity"
	"collabClient/backend/internal/metrics"
)

// Transport 发送文档消息；未连接时返回错误，调用方记录日志即可
type Transport interface {
	Send(data entity.WsDocumentData) error
}

// EventPublisher 本地版本提交成功后的通知，失败不影响提交结果
type EventPublisher interface {
	PublishRevision(ctx context.Context, author string, rev entity.Revision) error
}

type ManagerOptions struct {
	Events         EventPublisher
	PublishTimeout time.Duration
	InitialState   entity.WsState
	Logger         *slog.Logger
}

// Manager 一个文档的版本号分配、待确认队列以及推送/拉取/确认协议
type Manager struct {
	docID  string
	userID string
	ws     Transport
	store  *StoreActor
	events EventPublisher
	log    *slog.Logger

	publishTimeout time.Duration

	// sendMu 让新版本的推送和重连后的重传排队，对端总是按版本号升序收到。先于 mu 获取
	sendMu sync.Mutex

	mu     sync.Mutex
	head   entity.RevID
	outbox map[entity.RevID]entity.Revision
	state  entity.WsState
}

func NewManager(docID, userID string, head entity.RevID, ws Transport, store *StoreActor, opt ManagerOptions) *Manager {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.PublishTimeout <= 0 {
		opt.PublishTimeout = time.Second
	}
	return &Manager{
		docID:          docID,
		userID:         userID,
		ws:             ws,
		store:          store,
		events:         opt.Events,
		log:            opt.Logger.With("component", "revision_manager", "doc_id", docID),
		publishTimeout: opt.PublishTimeout,
		head:           head,
		outbox:         make(map[entity.RevID]entity.Revision),
		state:          opt.InitialState,
	}
}

// NextRevisionIDPair 返回 (head, head+1) 并推进 head，并发调用拿到的版本号互不相同
func (m *Manager) NextRevisionIDPair() (base, rev entity.RevID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	base = m.head
	m.head = base.Next()
	return base, m.head
}

func (m *Manager) CurrentRevisionID() entity.RevID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.head
}

// AddRevision 持久化本地版本，放进待确认队列并发送。持久化失败时归还版本号
func (m *Manager) AddRevision(ctx context.Context, rev entity.Revision) error {
	if err := m.store.Persist(ctx, rev); err != nil {
		m.releaseRevisionID(rev)
		return err
	}

	m.sendMu.Lock()
	m.mu.Lock()
	m.outbox[rev.RevID] = rev
	connected := m.state == entity.WsConnected
	m.mu.Unlock()
	if connected {
		m.push(rev)
	}
	m.sendMu.Unlock()

	m.publish(ctx, rev)
	return nil
}

// ApplyRemoteRevision 把远端推送的版本接到本地链上，base 必须等于当前 head
func (m *Manager) ApplyRemoteRevision(ctx context.Context, rev entity.Revision) error {
	if err := rev.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	if rev.BaseRevID != m.head {
		head := m.head
		m.mu.Unlock()
		metrics.RevisionConflicts.Inc()
		return fmt.Errorf("%w: remote base %d, local head %d", entity.ErrRevisionConflict, rev.BaseRevID, head)
	}
	m.head = rev.RevID
	m.mu.Unlock()

	rev.Ty = entity.RevRemote
	if err := m.store.Persist(ctx, rev); err != nil {
		m.releaseRevisionID(rev)
		return err
	}
	return nil
}

// releaseRevisionID 只在 head 仍是 rev 时回退，避免覆盖之后的分配
func (m *Manager) releaseRevisionID(rev entity.Revision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.head == rev.RevID {
		m.head = rev.BaseRevID
	}
}

// AckRevision 未知或已确认的版本号直接忽略
func (m *Manager) AckRevision(rev entity.RevID) {
	m.mu.Lock()
	_, ok := m.outbox[rev]
	delete(m.outbox, rev)
	m.mu.Unlock()
	if ok {
		metrics.RevisionsAcked.Inc()
		m.log.Debug("revision acked", "rev_id", rev)
	}
}

// PendingRevisionIDs 升序返回尚未确认的版本号
func (m *Manager) PendingRevisionIDs() []entity.RevID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]entity.RevID, 0, len(m.outbox))
	for id := range m.outbox {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SendRevisions 从存储里取出 rng 对应的版本并重新推送
func (m *Manager) SendRevisions(ctx context.Context, rng entity.RevisionRange) error {
	revs, err := m.store.Range(ctx, rng)
	if err != nil {
		return err
	}
	var errs []error
	for _, rev := range revs {
		if err := m.send(entity.WsPushRev, rev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RequestRevisions 请求对端补发 rng 内的版本
func (m *Manager) RequestRevisions(rng entity.RevisionRange) error {
	rng.DocID = m.docID
	data, err := rng.Bytes()
	if err != nil {
		return err
	}
	return m.ws.Send(entity.WsDocumentData{DocID: m.docID, Ty: entity.WsPullRev, Data: data})
}

// HandleConnectionStateChanged 重新连上时按版本号升序重传全部未确认的版本
func (m *Manager) HandleConnectionStateChanged(state entity.WsState) {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	m.mu.Lock()
	prev := m.state
	m.state = state
	var pending []entity.Revision
	if state == entity.WsConnected && prev != entity.WsConnected {
		pending = make([]entity.Revision, 0, len(m.outbox))
		for _, rev := range m.outbox {
			pending = append(pending, rev)
		}
	}
	m.mu.Unlock()

	m.log.Info("connection state changed", "from", prev, "to", state, "pending", len(pending))
	sort.Slice(pending, func(i, j int) bool { return pending[i].RevID < pending[j].RevID })
	for _, rev := range pending {
		metrics.RevisionsRetransmitted.Inc()
		m.push(rev)
	}
}

func (m *Manager) push(rev entity.Revision) {
	if err := m.send(entity.WsPushRev, rev); err != nil {
		m.log.Warn("push revision failed, kept for retransmit", "rev_id", rev.RevID, "err", err)
	}
}

func (m *Manager) send(ty entity.WsDataType, rev entity.Revision) error {
	data, err := rev.Bytes()
	if err != nil {
		return err
	}
	return m.ws.Send(entity.WsDocumentData{DocID: m.docID, Ty: ty, Data: data})
}

func (m *Manager) publish(ctx context.Context, rev entity.Revision) {
	if m.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, m.publishTimeout)
	defer cancel()
	if err := m.events.PublishRevision(ctx, m.userID, rev); err != nil {
		m.log.Warn("publish revision event failed", "rev_id", rev.RevID, "err", err)
	}
}
