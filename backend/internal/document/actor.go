package document

import (
	"context"
	"fmt"
	"log/slog"

	"collabClient/backend/internal/collab"
	"collabClient/backend/internal/entity"
	"collabClient/backend/internal/metrics"
	"collabClient/backend/internal/ot/delta"
)

// Change 一次成功应用的变更。Delta 以应用前的文档为基准，Data 是它的序列化结果，
// 也就是要写进 Revision 的内容
type Change struct {
	Delta delta.Delta
	Data  []byte
	Undo  entity.UndoResult

	snap *snapshot
}

// IsEmpty 为 true 时文档没有变化，不需要提交版本
func (c Change) IsEmpty() bool { return len(c.Delta) == 0 }

// State 文档当前状态的只读投影
type State struct {
	Delta delta.Delta
	Text  string
	Saved entity.RevID
}

type Options struct {
	UndoLimit int
	Logger    *slog.Logger
}

// Editor 文档 actor 的句柄，可以被多个 goroutine 共享
type Editor struct {
	docID string
	mb    *mailbox
	done  chan struct{}
	log   *slog.Logger
}

type snapshot struct {
	doc  delta.Delta
	hist *history
}

type docState struct {
	doc   delta.Delta
	buf   collab.Buffer
	hist  *history
	saved entity.RevID
}

// Spawn 以 initial 为初始内容启动文档 actor，initial 必须只包含 insert
func Spawn(docID string, initial delta.Delta, opt Options) (*Editor, error) {
	if !initial.IsDocument() {
		return nil, fmt.Errorf("%w: initial delta of %s is not a document", entity.ErrMalformedPayload, docID)
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	e := &Editor{
		docID: docID,
		mb:    newMailbox(metrics.DocumentMailboxDepth.WithLabelValues(docID)),
		done:  make(chan struct{}),
		log:   opt.Logger.With("component", "document_actor", "doc_id", docID),
	}
	s := &docState{
		doc:  initial,
		buf:  collab.NewPieceTable(initial.Text()),
		hist: newHistory(opt.UndoLimit),
	}
	go e.loop(s)
	return e, nil
}

func (e *Editor) loop(s *docState) {
	defer close(e.done)
	for {
		cmd, ok := e.mb.pop()
		if !ok {
			e.log.Debug("document actor stopped")
			return
		}
		e.handle(s, cmd)
	}
}

func (e *Editor) handle(s *docState, cmd command) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("document command panicked", "cmd", cmd.name(), "panic", r)
			cmd.fail(fmt.Errorf("%w: %s panicked", entity.ErrUnreachable, cmd.name()))
		}
	}()
	cmd.exec(s)
	if err := cmd.context().Err(); err != nil {
		metrics.RepliesDropped.WithLabelValues("document_actor").Inc()
		e.log.Warn("dropped reply", "cmd", cmd.name(), "err", err)
	}
}

// Close 不再接收新命令，等已入队的命令处理完后退出
func (e *Editor) Close() {
	e.mb.close()
	<-e.done
	metrics.DocumentMailboxDepth.DeleteLabelValues(e.docID)
}

func ask[T any](ctx context.Context, e *Editor, req request[T], cmd command) (T, error) {
	var zero T
	if !e.mb.push(cmd) {
		return zero, fmt.Errorf("%w: document actor %s closed", entity.ErrUnreachable, e.docID)
	}
	select {
	case r := <-req.ret:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (e *Editor) Insert(ctx context.Context, index int, text string, attrs delta.Attributes) (Change, error) {
	req := newRequest[Change](ctx)
	return ask(ctx, e, req, &insertCmd{request: req, index: index, text: text, attrs: attrs})
}

func (e *Editor) Delete(ctx context.Context, iv delta.Interval) (Change, error) {
	req := newRequest[Change](ctx)
	return ask(ctx, e, req, &deleteCmd{request: req, interval: iv})
}

func (e *Editor) Format(ctx context.Context, iv delta.Interval, attr delta.Attribute) (Change, error) {
	req := newRequest[Change](ctx)
	return ask(ctx, e, req, &formatCmd{request: req, interval: iv, attr: attr})
}

func (e *Editor) Replace(ctx context.Context, iv delta.Interval, text string) (Change, error) {
	req := newRequest[Change](ctx)
	return ask(ctx, e, req, &replaceCmd{request: req, interval: iv, text: text})
}

// ApplyDelta 用于本地已组合好的 delta 和远端推送的版本
func (e *Editor) ApplyDelta(ctx context.Context, d delta.Delta) (Change, error) {
	req := newRequest[Change](ctx)
	return ask(ctx, e, req, &deltaCmd{request: req, change: d})
}

func (e *Editor) Undo(ctx context.Context) (Change, error) {
	req := newRequest[Change](ctx)
	return ask(ctx, e, req, &undoCmd{request: req})
}

func (e *Editor) Redo(ctx context.Context) (Change, error) {
	req := newRequest[Change](ctx)
	return ask(ctx, e, req, &redoCmd{request: req})
}

// CanUndo actor 不可达时返回 false
func (e *Editor) CanUndo(ctx context.Context) bool {
	req := newRequest[bool](ctx)
	ok, err := ask(ctx, e, req, &canUndoCmd{request: req})
	return err == nil && ok
}

func (e *Editor) CanRedo(ctx context.Context) bool {
	req := newRequest[bool](ctx)
	ok, err := ask(ctx, e, req, &canRedoCmd{request: req})
	return err == nil && ok
}

func (e *Editor) Doc(ctx context.Context) (State, error) {
	req := newRequest[State](ctx)
	return ask(ctx, e, req, &docCmd{request: req})
}

// SaveDocument 记录已持久化到的版本号，只会前进
func (e *Editor) SaveDocument(ctx context.Context, rev entity.RevID) error {
	req := newRequest[struct{}](ctx)
	_, err := ask(ctx, e, req, &saveCmd{request: req, rev: rev})
	return err
}

// Rollback 把文档恢复到 change 应用之前的状态，用于提交失败的情况
func (e *Editor) Rollback(ctx context.Context, change Change) error {
	if change.snap == nil {
		return nil
	}
	req := newRequest[struct{}](ctx)
	_, err := ask(ctx, e, req, &rollbackCmd{request: req, snap: change.snap})
	return err
}

// edit 处理本地编辑：先校验、再修改，成功后把逆操作压入撤销栈并清空重做栈
func (s *docState) edit(build func(docLen int) (delta.Delta, error)) (Change, error) {
	change, err := build(s.buf.Len())
	if err != nil {
		return Change{}, err
	}
	if len(change) == 0 {
		return Change{}, nil
	}
	inverse, err := delta.Invert(change, s.doc)
	if err != nil {
		return Change{}, err
	}
	snap := s.snapshot()
	if err := s.compose(change); err != nil {
		return Change{}, err
	}
	s.hist.pushUndo(entry{undo: inverse, redo: change})
	s.hist.clearRedo()
	return newChange(change, snap, entity.UndoResult{})
}

// apply 外部的 delta 不进撤销栈，但已有的撤销/重做记录要跟着变换
func (s *docState) apply(change delta.Delta) (Change, error) {
	if len(change) == 0 {
		return Change{}, nil
	}
	snap := s.snapshot()
	if err := s.compose(change); err != nil {
		return Change{}, err
	}
	s.hist.rebase(change)
	return newChange(change, snap, entity.UndoResult{})
}

func (s *docState) undo() (Change, error) {
	e, ok := s.hist.peekUndo()
	if !ok {
		return Change{}, nil
	}
	snap := s.snapshot()
	if err := s.compose(e.undo); err != nil {
		return Change{}, err
	}
	s.hist.popUndo()
	s.hist.pushRedo(e)
	return newChange(e.undo, snap, entity.UndoResult{Success: true, Interval: e.undo.Span()})
}

func (s *docState) redo() (Change, error) {
	e, ok := s.hist.peekRedo()
	if !ok {
		return Change{}, nil
	}
	snap := s.snapshot()
	if err := s.compose(e.redo); err != nil {
		return Change{}, err
	}
	s.hist.popRedo()
	s.hist.pushUndo(e)
	return newChange(e.redo, snap, entity.UndoResult{Success: true, Interval: e.redo.Span()})
}

// compose 要么同时更新 doc 和 buf，要么都不动
func (s *docState) compose(change delta.Delta) error {
	if change.BaseLen() > s.buf.Len() {
		return fmt.Errorf("%w: change spans %d, document has %d", entity.ErrOutOfRange, change.BaseLen(), s.buf.Len())
	}
	next, err := delta.Compose(s.doc, change)
	if err != nil {
		return err
	}
	if err := s.buf.Apply(change); err != nil {
		return err
	}
	s.doc = next
	return nil
}

func (s *docState) state() State {
	return State{Delta: s.doc, Text: s.buf.String(), Saved: s.saved}
}

func (s *docState) snapshot() *snapshot {
	return &snapshot{doc: s.doc, hist: s.hist.clone()}
}

func (s *docState) restore(snap *snapshot) {
	s.doc = snap.doc
	s.hist = snap.hist.clone()
	s.buf = collab.NewPieceTable(snap.doc.Text())
}

func newChange(d delta.Delta, snap *snapshot, undo entity.UndoResult) (Change, error) {
	data, err := d.Bytes()
	if err != nil {
		return Change{}, err
	}
	return Change{Delta: d, Data: data, Undo: undo, snap: snap}, nil
}
