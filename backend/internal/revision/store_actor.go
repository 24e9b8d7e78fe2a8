package revision

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"collabClient/backend/internal/entity"
	"collabClient/backend/internal/metrics"
	"collabClient/backend/internal/ot/delta"

	"github.com/prometheus/client_golang/prometheus"
)

const DefaultStoreMailboxSize = 50

type StoreOptions struct {
	MailboxSize int
	Logger      *slog.Logger
}

// StoreActor 串行处理一个文档的持久化和初始加载。邮箱有界，
// 提交过快时调用方在入队处被反压
type StoreActor struct {
	docID       string
	persistence Persistence
	server      Server
	log         *slog.Logger
	depth       prometheus.Gauge

	cmds chan storeCmd
	quit chan struct{}
	done chan struct{}

	mu     sync.RWMutex
	closed bool

	// 以下字段只在 loop 里访问
	head   entity.RevID
	loaded bool
}

type storeCmd interface {
	context() context.Context
	name() string
	exec(a *StoreActor)
}

type storeResult[T any] struct {
	val T
	err error
}

type storeReq[T any] struct {
	ctx context.Context
	ret chan storeResult[T]
}

func newStoreReq[T any](ctx context.Context) storeReq[T] {
	return storeReq[T]{ctx: ctx, ret: make(chan storeResult[T], 1)}
}

func (r storeReq[T]) context() context.Context { return r.ctx }

func (r storeReq[T]) reply(v T, err error) { r.ret <- storeResult[T]{val: v, err: err} }

type fetchCmd struct{ storeReq[DocRevision] }

func (c *fetchCmd) name() string { return "fetch" }

func (c *fetchCmd) exec(a *StoreActor) { c.reply(a.fetch(c.ctx)) }

type persistCmd struct {
	storeReq[struct{}]
	rev entity.Revision
}

func (c *persistCmd) name() string { return "persist" }

func (c *persistCmd) exec(a *StoreActor) { c.reply(struct{}{}, a.persist(c.ctx, c.rev)) }

type rangeCmd struct {
	storeReq[[]entity.Revision]
	rng entity.RevisionRange
}

func (c *rangeCmd) name() string { return "range" }

func (c *rangeCmd) exec(a *StoreActor) { c.reply(a.readRange(c.ctx, c.rng)) }

func SpawnStoreActor(docID string, p Persistence, srv Server, opt StoreOptions) *StoreActor {
	if opt.MailboxSize <= 0 {
		opt.MailboxSize = DefaultStoreMailboxSize
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	a := &StoreActor{
		docID:       docID,
		persistence: p,
		server:      srv,
		log:         opt.Logger.With("component", "revision_store", "doc_id", docID),
		depth:       metrics.StoreMailboxDepth.WithLabelValues(docID),
		cmds:        make(chan storeCmd, opt.MailboxSize),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *StoreActor) loop() {
	defer close(a.done)
	for {
		select {
		case cmd := <-a.cmds:
			a.handle(cmd)
		case <-a.quit:
			// 退出前把已入队的命令处理完，保证每个请求都有回复
			for {
				select {
				case cmd := <-a.cmds:
					a.handle(cmd)
				default:
					return
				}
			}
		}
	}
}

func (a *StoreActor) handle(cmd storeCmd) {
	a.depth.Dec()
	cmd.exec(a)
	if err := cmd.context().Err(); err != nil {
		metrics.RepliesDropped.WithLabelValues("revision_store").Inc()
		a.log.Warn("dropped reply", "cmd", cmd.name(), "err", err)
	}
}

func (a *StoreActor) send(ctx context.Context, cmd storeCmd) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return fmt.Errorf("%w: revision store %s closed", entity.ErrUnreachable, a.docID)
	}
	a.depth.Inc()
	select {
	case a.cmds <- cmd:
		return nil
	case <-ctx.Done():
		a.depth.Dec()
		return ctx.Err()
	}
}

func storeAsk[T any](ctx context.Context, a *StoreActor, req storeReq[T], cmd storeCmd) (T, error) {
	var zero T
	if err := a.send(ctx, cmd); err != nil {
		return zero, err
	}
	select {
	case r := <-req.ret:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// FetchReconstructedDocument 回放本地版本链得到当前文档；本地没有记录时从远端拉取并写入种子版本
func (a *StoreActor) FetchReconstructedDocument(ctx context.Context) (DocRevision, error) {
	req := newStoreReq[DocRevision](ctx)
	return storeAsk(ctx, a, req, &fetchCmd{storeReq: req})
}

// Persist 追加一个版本，base 必须等于已持久化的最新版本号
func (a *StoreActor) Persist(ctx context.Context, rev entity.Revision) error {
	req := newStoreReq[struct{}](ctx)
	_, err := storeAsk(ctx, a, req, &persistCmd{storeReq: req, rev: rev})
	return err
}

// Range 读取一段连续的版本用于重传，缺任何一个都返回 ErrRangeUnavailable
func (a *StoreActor) Range(ctx context.Context, rng entity.RevisionRange) ([]entity.Revision, error) {
	req := newStoreReq[[]entity.Revision](ctx)
	return storeAsk(ctx, a, req, &rangeCmd{storeReq: req, rng: rng})
}

// Close 停止接收命令，已入队的命令处理完后返回
func (a *StoreActor) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return
	}
	a.closed = true
	close(a.quit)
	a.mu.Unlock()
	<-a.done
	metrics.StoreMailboxDepth.DeleteLabelValues(a.docID)
}

func (a *StoreActor) fetch(ctx context.Context) (DocRevision, error) {
	revs, err := a.persistence.ReadRevisions(ctx, a.docID, nil)
	if err != nil {
		return DocRevision{}, fmt.Errorf("%w: %w", entity.ErrPersistence, err)
	}
	if len(revs) > 0 {
		doc, err := replay(revs)
		if err != nil {
			return DocRevision{}, err
		}
		a.head, a.loaded = doc.RevID, true
		a.log.Debug("document reconstructed from local chain", "revisions", len(revs), "rev_id", doc.RevID)
		return doc, nil
	}

	if a.server == nil {
		a.head, a.loaded = 0, true
		return DocRevision{}, nil
	}
	remote, err := a.server.FetchDocument(ctx, a.docID)
	if err != nil {
		return DocRevision{}, err
	}
	if !remote.Delta.IsDocument() {
		return DocRevision{}, fmt.Errorf("%w: remote document %s is not an insert-only delta", entity.ErrMalformedPayload, a.docID)
	}
	if remote.RevID == 0 {
		if len(remote.Delta) > 0 {
			return DocRevision{}, fmt.Errorf("%w: remote document %s has content at rev 0", entity.ErrMalformedPayload, a.docID)
		}
		a.head, a.loaded = 0, true
		return DocRevision{}, nil
	}

	data, err := remote.Delta.Bytes()
	if err != nil {
		return DocRevision{}, err
	}
	seed := entity.NewRevision(remote.RevID-1, remote.RevID, data, a.docID, entity.RevRemote)
	if err := a.persistence.AppendRevision(ctx, seed); err != nil {
		return DocRevision{}, fmt.Errorf("%w: seed %s: %w", entity.ErrPersistence, a.docID, err)
	}
	a.head, a.loaded = remote.RevID, true
	a.log.Info("document seeded from remote", "rev_id", remote.RevID)
	return remote, nil
}

// replay 从第一个版本开始依次组合，链不连续时报 ErrChainBroken
func replay(revs []entity.Revision) (DocRevision, error) {
	var doc delta.Delta
	for i, rev := range revs {
		if i > 0 && rev.BaseRevID != revs[i-1].RevID {
			return DocRevision{}, fmt.Errorf("%w: rev %d has base %d, previous is %d",
				entity.ErrChainBroken, rev.RevID, rev.BaseRevID, revs[i-1].RevID)
		}
		d, err := delta.FromBytes(rev.DeltaData)
		if err != nil {
			return DocRevision{}, fmt.Errorf("%w: rev %d: %w", entity.ErrMalformedPayload, rev.RevID, err)
		}
		if doc, err = delta.Compose(doc, d); err != nil {
			return DocRevision{}, fmt.Errorf("%w: rev %d: %w", entity.ErrChainBroken, rev.RevID, err)
		}
	}
	return DocRevision{RevID: revs[len(revs)-1].RevID, Delta: doc}, nil
}

func (a *StoreActor) persist(ctx context.Context, rev entity.Revision) error {
	if rev.DocID != a.docID {
		return fmt.Errorf("%w: revision of %s sent to %s", entity.ErrMalformedPayload, rev.DocID, a.docID)
	}
	if err := rev.Validate(); err != nil {
		return err
	}
	if !a.loaded {
		if err := a.loadHead(ctx); err != nil {
			return err
		}
	}
	if rev.BaseRevID != a.head {
		return fmt.Errorf("%w: %s base %d, persisted head %d", entity.ErrRevisionConflict, a.docID, rev.BaseRevID, a.head)
	}
	if err := a.persistence.AppendRevision(ctx, rev); err != nil {
		return fmt.Errorf("%w: %s rev %d: %w", entity.ErrPersistence, a.docID, rev.RevID, err)
	}
	a.head = rev.RevID
	metrics.RevisionsCommitted.WithLabelValues(string(rev.Ty)).Inc()
	return nil
}

func (a *StoreActor) loadHead(ctx context.Context) error {
	revs, err := a.persistence.ReadRevisions(ctx, a.docID, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", entity.ErrPersistence, err)
	}
	if n := len(revs); n > 0 {
		a.head = revs[n-1].RevID
	}
	a.loaded = true
	return nil
}

func (a *StoreActor) readRange(ctx context.Context, rng entity.RevisionRange) ([]entity.Revision, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	revs, err := a.persistence.ReadRevisions(ctx, a.docID, &rng)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", entity.ErrPersistence, err)
	}
	if len(revs) != rng.Len() {
		return nil, fmt.Errorf("%w: %s [%d,%d] has %d revisions", entity.ErrRangeUnavailable, a.docID, rng.Start, rng.End, len(revs))
	}
	for i, rev := range revs {
		if rev.RevID != rng.Start+entity.RevID(i) {
			return nil, fmt.Errorf("%w: %s missing rev %d", entity.ErrRangeUnavailable, a.docID, rng.Start+entity.RevID(i))
		}
	}
	return revs, nil
}
