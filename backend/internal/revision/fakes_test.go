package revision

import (
	"context"
	"errors"
	"sync"

	"collabClient/backend/internal/entity"
)

type recordingTransport struct {
	mu   sync.Mutex
	sent []entity.WsDocumentData
	err  error
}

func (t *recordingTransport) Send(data entity.WsDocumentData) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, data)
	return nil
}

// gatedTransport 第一次 Send 时停住，直到 release 被关闭
type gatedTransport struct {
	*recordingTransport
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedTransport() *gatedTransport {
	return &gatedTransport{
		recordingTransport: &recordingTransport{},
		entered:            make(chan struct{}),
		release:            make(chan struct{}),
	}
}

func (t *gatedTransport) Send(data entity.WsDocumentData) error {
	t.once.Do(func() {
		close(t.entered)
		<-t.release
	})
	return t.recordingTransport.Send(data)
}

func (t *recordingTransport) pushed() []entity.RevID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []entity.RevID
	for _, d := range t.sent {
		if d.Ty != entity.WsPushRev {
			continue
		}
		rev, err := entity.RevisionFromBytes(d.Data)
		if err == nil {
			ids = append(ids, rev.RevID)
		}
	}
	return ids
}

func (t *recordingTransport) reset() {
	t.mu.Lock()
	t.sent = nil
	t.mu.Unlock()
}

type staticServer struct {
	doc   DocRevision
	err   error
	calls int
}

func (s *staticServer) FetchDocument(context.Context, string) (DocRevision, error) {
	s.calls++
	return s.doc, s.err
}

var errDiskFull = errors.New("disk full")

// flakyPersistence 在 fail 为 true 时拒绝写入
type flakyPersistence struct {
	*MemoryPersistence
	mu   sync.Mutex
	fail bool
}

func (p *flakyPersistence) setFail(v bool) {
	p.mu.Lock()
	p.fail = v
	p.mu.Unlock()
}

func (p *flakyPersistence) AppendRevision(ctx context.Context, rev entity.Revision) error {
	p.mu.Lock()
	fail := p.fail
	p.mu.Unlock()
	if fail {
		return errDiskFull
	}
	return p.MemoryPersistence.AppendRevision(ctx, rev)
}

type recordingEvents struct {
	mu   sync.Mutex
	revs []entity.RevID
}

func (e *recordingEvents) PublishRevision(_ context.Context, _ string, rev entity.Revision) error {
	e.mu.Lock()
	e.revs = append(e.revs, rev.RevID)
	e.mu.Unlock()
	return nil
}
