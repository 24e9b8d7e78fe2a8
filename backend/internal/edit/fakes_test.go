package edit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"collabClient/backend/internal/entity"
	"collabClient/backend/internal/ot/delta"
	"collabClient/backend/internal/revision"
	"collabClient/backend/internal/ws"
)

type staticUser struct {
	id  string
	err error
}

func (u staticUser) UserID() (string, error) { return u.id, u.err }

type recordingTransport struct {
	mu   sync.Mutex
	sent []entity.WsDocumentData
}

func (t *recordingTransport) Send(data entity.WsDocumentData) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, data)
	return nil
}

func (t *recordingTransport) ofType(ty entity.WsDataType) []entity.WsDocumentData {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []entity.WsDocumentData
	for _, d := range t.sent {
		if d.Ty == ty {
			out = append(out, d)
		}
	}
	return out
}

type emptyServer struct{ err error }

func (s emptyServer) FetchDocument(context.Context, string) (revision.DocRevision, error) {
	return revision.DocRevision{}, s.err
}

var errDiskFull = errors.New("disk full")

type switchablePersistence struct {
	*revision.MemoryPersistence
	mu   sync.Mutex
	fail bool
}

func (p *switchablePersistence) setFail(v bool) {
	p.mu.Lock()
	p.fail = v
	p.mu.Unlock()
}

func (p *switchablePersistence) AppendRevision(ctx context.Context, rev entity.Revision) error {
	p.mu.Lock()
	fail := p.fail
	p.mu.Unlock()
	if fail {
		return errDiskFull
	}
	return p.MemoryPersistence.AppendRevision(ctx, rev)
}

type recordingPresence struct {
	users chan entity.NewDocUser
}

func (p *recordingPresence) OnNewDocUser(_ context.Context, u entity.NewDocUser) error {
	p.users <- u
	return nil
}

type recordingSnapshots struct {
	mu    sync.Mutex
	saved map[string]string
}

func (s *recordingSnapshots) SaveDocumentSnapshot(_ context.Context, docID string, _ uint64, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = make(map[string]string)
	}
	s.saved[docID] = content
	return nil
}

type fixture struct {
	s    *Session
	p    *switchablePersistence
	ws   *recordingTransport
	deps Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	p := &switchablePersistence{MemoryPersistence: revision.NewMemoryPersistence()}
	tr := &recordingTransport{}
	deps := Deps{
		Persistence:  p,
		Server:       emptyServer{},
		Transport:    tr,
		User:         staticUser{id: "u1"},
		Presence:     &recordingPresence{users: make(chan entity.NewDocUser, 1)},
		InitialState: entity.WsConnected,
	}
	s, err := Open(context.Background(), "doc-1", deps)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(s.Close)
	return &fixture{s: s, p: p, ws: tr, deps: deps}
}

func (f *fixture) text(t *testing.T) string {
	t.Helper()
	doc, err := f.s.Doc(context.Background())
	if err != nil {
		t.Fatalf("Doc() error = %v", err)
	}
	return doc.Data
}

func (f *fixture) chain(t *testing.T) []entity.Revision {
	t.Helper()
	revs, err := f.p.ReadRevisions(context.Background(), "doc-1", nil)
	if err != nil {
		t.Fatalf("ReadRevisions() error = %v", err)
	}
	return revs
}

func (f *fixture) remoteRev(t *testing.T, base, rev entity.RevID, d delta.Delta) entity.WsDocumentData {
	t.Helper()
	data, err := d.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	b, err := entity.NewRevision(base, rev, data, "doc-1", entity.RevRemote).Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	return entity.WsDocumentData{DocID: "doc-1", Ty: entity.WsPushRev, Data: b}
}

// eventually 入站消息是异步处理的，轮询直到条件成立
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

type recordingRouter struct {
	mu       sync.Mutex
	handlers map[string]ws.Handler
}

func (r *recordingRouter) Register(docID string, h ws.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[string]ws.Handler)
	}
	r.handlers[docID] = h
}

func (r *recordingRouter) Unregister(docID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, docID)
}

func (r *recordingRouter) State() entity.WsState { return entity.WsConnected }
