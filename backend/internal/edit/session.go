package edit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"collabClient/backend/internal/collab"
	"collabClient/backend/internal/document"
	"collabClient/backend/internal/entity"
	"collabClient/backend/internal/ot/delta"
	"collabClient/backend/internal/revision"
)

// User 解析当前登录用户
type User interface {
	UserID() (string, error)
}

// PresenceObserver 同一文档有新用户加入时的回调
type PresenceObserver interface {
	OnNewDocUser(ctx context.Context, user entity.NewDocUser) error
}

// Deps 会话依赖的外部能力，持久化和传输在所有文档间共享
type Deps struct {
	Persistence revision.Persistence
	Server      revision.Server
	Transport   revision.Transport
	User        User
	Events      revision.EventPublisher
	Presence    PresenceObserver
	Logger      *slog.Logger

	StoreMailboxSize int
	UndoLimit        int
	InboxSize        int
	PublishTimeout   time.Duration
	InitialState     entity.WsState
}

// Session 一个打开的文档，可以被多个 goroutine 同时使用
type Session struct {
	docID    string
	userID   string
	editor   *document.Editor
	revs     *revision.Manager
	store    *revision.StoreActor
	presence PresenceObserver
	log      *slog.Logger

	// commitLock 覆盖“应用编辑 → 分配版本号 → 持久化发送 → 记录检查点”整个过程
	commitLock *collab.SemaphoreControl

	inbox     chan entity.WsDocumentData
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Open 要么返回可用的会话，要么不留下任何后台 goroutine
func Open(ctx context.Context, docID string, deps Deps) (*Session, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.InboxSize <= 0 {
		deps.InboxSize = 64
	}
	if deps.User == nil {
		return nil, fmt.Errorf("%w: no user", entity.ErrIdentity)
	}
	userID, err := deps.User.UserID()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", entity.ErrIdentity, err)
	}
	log := deps.Logger.With("doc_id", docID)

	store := revision.SpawnStoreActor(docID, deps.Persistence, deps.Server, revision.StoreOptions{
		MailboxSize: deps.StoreMailboxSize,
		Logger:      deps.Logger,
	})
	doc, err := store.FetchReconstructedDocument(ctx)
	if err != nil {
		store.Close()
		return nil, err
	}
	editor, err := document.Spawn(docID, doc.Delta, document.Options{UndoLimit: deps.UndoLimit, Logger: deps.Logger})
	if err != nil {
		store.Close()
		return nil, err
	}
	if err := editor.SaveDocument(ctx, doc.RevID); err != nil {
		editor.Close()
		store.Close()
		return nil, err
	}
	revs := revision.NewManager(docID, userID, doc.RevID, deps.Transport, store, revision.ManagerOptions{
		Events:         deps.Events,
		PublishTimeout: deps.PublishTimeout,
		InitialState:   deps.InitialState,
		Logger:         deps.Logger,
	})

	s := &Session{
		docID:      docID,
		userID:     userID,
		editor:     editor,
		revs:       revs,
		store:      store,
		presence:   deps.Presence,
		log:        log.With("component", "edit_session"),
		commitLock: collab.NewSemaphoreControl(1),
		inbox:      make(chan entity.WsDocumentData, deps.InboxSize),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go s.receiveLoop()
	s.log.Info("document opened", "rev_id", doc.RevID, "user_id", userID)
	return s, nil
}

func (s *Session) DocID() string { return s.docID }

func (s *Session) Insert(ctx context.Context, index int, text string) error {
	_, err := s.commit(ctx, "insert", func(ctx context.Context) (document.Change, error) {
		return s.editor.Insert(ctx, index, text, nil)
	})
	return err
}

func (s *Session) Delete(ctx context.Context, iv delta.Interval) error {
	_, err := s.commit(ctx, "delete", func(ctx context.Context) (document.Change, error) {
		return s.editor.Delete(ctx, iv)
	})
	return err
}

func (s *Session) Format(ctx context.Context, iv delta.Interval, attr delta.Attribute) error {
	_, err := s.commit(ctx, "format", func(ctx context.Context) (document.Change, error) {
		return s.editor.Format(ctx, iv, attr)
	})
	return err
}

func (s *Session) Replace(ctx context.Context, iv delta.Interval, text string) error {
	_, err := s.commit(ctx, "replace", func(ctx context.Context) (document.Change, error) {
		return s.editor.Replace(ctx, iv, text)
	})
	return err
}

// ComposeLocalDelta 应用调用方已经组合好的 delta 并提交
func (s *Session) ComposeLocalDelta(ctx context.Context, data []byte) error {
	d, err := delta.FromBytes(data)
	if err != nil {
		return fmt.Errorf("%w: %w", entity.ErrMalformedPayload, err)
	}
	_, err = s.commit(ctx, "compose_local_delta", func(ctx context.Context) (document.Change, error) {
		return s.editor.ApplyDelta(ctx, d)
	})
	return err
}

// SetText 把文档改成 text，只提交两者的差异
func (s *Session) SetText(ctx context.Context, text string) error {
	_, err := s.commit(ctx, "set_text", func(ctx context.Context) (document.Change, error) {
		st, err := s.editor.Doc(ctx)
		if err != nil {
			return document.Change{}, err
		}
		return s.editor.ApplyDelta(ctx, delta.FromTextDiff(st.Text, text))
	})
	return err
}

// Undo 撤销也是一次普通的提交，会产生新的版本
func (s *Session) Undo(ctx context.Context) (entity.UndoResult, error) {
	c, err := s.commit(ctx, "undo", s.editor.Undo)
	return c.Undo, err
}

func (s *Session) Redo(ctx context.Context) (entity.UndoResult, error) {
	c, err := s.commit(ctx, "redo", s.editor.Redo)
	return c.Undo, err
}

func (s *Session) CanUndo(ctx context.Context) bool { return s.editor.CanUndo(ctx) }

func (s *Session) CanRedo(ctx context.Context) bool { return s.editor.CanRedo(ctx) }

func (s *Session) Doc(ctx context.Context) (entity.Doc, error) {
	st, err := s.editor.Doc(ctx)
	if err != nil {
		return entity.Doc{}, err
	}
	return entity.Doc{ID: s.docID, Data: st.Text, RevID: s.revs.CurrentRevisionID()}, nil
}

// Delta 返回带格式的完整文档
func (s *Session) Delta(ctx context.Context) (delta.Delta, error) {
	st, err := s.editor.Doc(ctx)
	if err != nil {
		return nil, err
	}
	return st.Delta, nil
}

// SavedRevisionID 文档 actor 记录的检查点
func (s *Session) SavedRevisionID(ctx context.Context) (entity.RevID, error) {
	st, err := s.editor.Doc(ctx)
	return st.Saved, err
}

func (s *Session) PendingRevisionIDs() []entity.RevID { return s.revs.PendingRevisionIDs() }

type commitResult struct {
	change document.Change
	err    error
}

// commit 拿到提交锁后在独立的 goroutine 里跑完整个流程；
// 调用方放弃等待不会中断流程，结果只记日志
func (s *Session) commit(ctx context.Context, op string, mutate func(context.Context) (document.Change, error)) (document.Change, error) {
	select {
	case <-s.quit:
		return document.Change{}, entity.ErrSessionClosed
	default:
	}
	if err := s.commitLock.Acquire(ctx); err != nil {
		return document.Change{}, err
	}
	ret := make(chan commitResult, 1)
	go func() {
		defer s.commitLock.Release()
		c, err := s.commitLocked(context.WithoutCancel(ctx), mutate)
		ret <- commitResult{change: c, err: err}
		if ctx.Err() != nil {
			s.log.Warn("dropped commit result", "op", op, "err", err, "caller_err", ctx.Err())
		}
	}()
	select {
	case r := <-ret:
		return r.change, r.err
	case <-ctx.Done():
		return document.Change{}, ctx.Err()
	}
}

func (s *Session) commitLocked(ctx context.Context, mutate func(context.Context) (document.Change, error)) (document.Change, error) {
	change, err := mutate(ctx)
	if err != nil {
		return document.Change{}, err
	}
	if change.IsEmpty() {
		return change, nil
	}
	base, rev := s.revs.NextRevisionIDPair()
	r := entity.NewRevision(base, rev, change.Data, s.docID, entity.RevLocal)
	if err := s.revs.AddRevision(ctx, r); err != nil {
		if rbErr := s.editor.Rollback(ctx, change); rbErr != nil {
			s.log.Error("rollback failed", "rev_id", rev, "err", rbErr)
		}
		return document.Change{}, err
	}
	if err := s.editor.SaveDocument(ctx, rev); err != nil {
		s.log.Warn("checkpoint failed", "rev_id", rev, "err", err)
	}
	return change, nil
}

// Close 等正在进行的提交结束后关闭所有后台 goroutine
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		<-s.done
		_ = s.commitLock.Acquire(context.Background())
		s.editor.Close()
		s.store.Close()
		_ = s.commitLock.Release()
		s.log.Info("document closed")
	})
}
