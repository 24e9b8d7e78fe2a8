package edit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"collabClient/backend/internal/entity"
	"collabClient/backend/internal/ot/delta"
	"collabClient/backend/internal/revision"

	"github.com/google/go-cmp/cmp"
)

type pair struct{ Base, Rev entity.RevID }

func pairs(revs []entity.Revision) []pair {
	out := make([]pair, 0, len(revs))
	for _, r := range revs {
		out = append(out, pair{r.BaseRevID, r.RevID})
	}
	return out
}

func TestSession_EditUndoScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.s.Insert(ctx, 0, "abc"); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if got := f.text(t); got != "abc" {
		t.Fatalf("text = %q, want %q", got, "abc")
	}
	if err := f.s.Insert(ctx, 3, "d"); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	doc, _ := f.s.Doc(ctx)
	if doc.Data != "abcd" || doc.RevID != 2 {
		t.Fatalf("Doc() = %+v, want abcd@2", doc)
	}

	r, err := f.s.Undo(ctx)
	if err != nil || !r.Success {
		t.Fatalf("Undo() = %+v, %v", r, err)
	}
	if got := f.text(t); got != "abc" {
		t.Fatalf("text after undo = %q, want %q", got, "abc")
	}
	if !f.s.CanRedo(ctx) {
		t.Fatalf("CanRedo() = false, want true")
	}

	// 撤销同样产生一个版本
	if diff := cmp.Diff([]pair{{0, 1}, {1, 2}, {2, 3}}, pairs(f.chain(t))); diff != "" {
		t.Fatalf("chain mismatch (-want +got):\n%s", diff)
	}
	saved, _ := f.s.SavedRevisionID(ctx)
	if saved != 3 {
		t.Fatalf("SavedRevisionID() = %d, want 3", saved)
	}
	if got := len(f.ws.ofType(entity.WsPushRev)); got != 3 {
		t.Fatalf("pushed %d revisions, want 3", got)
	}
}

func TestSession_OutOfRangeLeavesDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_ = f.s.Insert(ctx, 0, "abc")

	if err := f.s.Delete(ctx, delta.NewInterval(1, 9)); !errors.Is(err, entity.ErrOutOfRange) {
		t.Fatalf("Delete() error = %v, want %v", err, entity.ErrOutOfRange)
	}
	if err := f.s.Insert(ctx, 7, "x"); !errors.Is(err, entity.ErrOutOfRange) {
		t.Fatalf("Insert() error = %v, want %v", err, entity.ErrOutOfRange)
	}
	if got := f.text(t); got != "abc" {
		t.Fatalf("text = %q, want %q", got, "abc")
	}
	if got := len(f.chain(t)); got != 1 {
		t.Fatalf("chain length = %d, want 1", got)
	}
}

func TestSession_FormatReplaceAndCompose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_ = f.s.Insert(ctx, 0, "hello world")

	if err := f.s.Format(ctx, delta.NewInterval(0, 5), delta.Attribute{Key: "bold", Value: true}); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if err := f.s.Replace(ctx, delta.NewInterval(6, 11), "there"); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	data, _ := delta.Delta{}.Retain(11, nil).Insert("!", nil).Bytes()
	if err := f.s.ComposeLocalDelta(ctx, data); err != nil {
		t.Fatalf("ComposeLocalDelta() error = %v", err)
	}
	if err := f.s.ComposeLocalDelta(ctx, []byte("not json")); !errors.Is(err, entity.ErrMalformedPayload) {
		t.Fatalf("ComposeLocalDelta() error = %v, want %v", err, entity.ErrMalformedPayload)
	}

	got, _ := f.s.Delta(ctx)
	want := delta.Delta{}.Insert("hello", delta.Attributes{"bold": true}).Insert(" there!", nil)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("delta mismatch (-want +got):\n%s", diff)
	}
	if got := len(f.chain(t)); got != 4 {
		t.Fatalf("chain length = %d, want 4", got)
	}
}

func TestSession_SetText(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_ = f.s.Insert(ctx, 0, "the quick fox")
	if err := f.s.SetText(ctx, "the slow fox"); err != nil {
		t.Fatalf("SetText() error = %v", err)
	}
	if got := f.text(t); got != "the slow fox" {
		t.Fatalf("text = %q, want %q", got, "the slow fox")
	}
	// 内容相同不产生版本
	if err := f.s.SetText(ctx, "the slow fox"); err != nil {
		t.Fatalf("SetText() error = %v", err)
	}
	if got := len(f.chain(t)); got != 2 {
		t.Fatalf("chain length = %d, want 2", got)
	}
}

func TestSession_ConcurrentEditsFormContiguousChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.s.Insert(ctx, 0, "x"); err != nil {
				t.Errorf("Insert() error = %v", err)
			}
		}()
	}
	wg.Wait()

	chain := f.chain(t)
	if len(chain) != n {
		t.Fatalf("chain length = %d, want %d", len(chain), n)
	}
	var doc delta.Delta
	for i, r := range chain {
		if r.BaseRevID != entity.RevID(i) || r.RevID != entity.RevID(i+1) {
			t.Fatalf("chain[%d] = (%d, %d)", i, r.BaseRevID, r.RevID)
		}
		d, err := delta.FromBytes(r.DeltaData)
		if err != nil {
			t.Fatalf("FromBytes() error = %v", err)
		}
		if doc, err = delta.Compose(doc, d); err != nil {
			t.Fatalf("Compose() error = %v", err)
		}
	}
	if got := f.text(t); got != doc.Text() {
		t.Fatalf("text = %q, replayed chain = %q", got, doc.Text())
	}
}

func TestSession_PersistenceFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_ = f.s.Insert(ctx, 0, "abc")

	f.p.setFail(true)
	if err := f.s.Insert(ctx, 3, "d"); !errors.Is(err, entity.ErrPersistence) {
		t.Fatalf("Insert() error = %v, want %v", err, entity.ErrPersistence)
	}
	doc, _ := f.s.Doc(ctx)
	if doc.Data != "abc" || doc.RevID != 1 {
		t.Fatalf("Doc() = %+v, want abc@1", doc)
	}
	// 失败的编辑不进入撤销栈，撤销的是上一次成功的插入
	f.p.setFail(false)
	if r, err := f.s.Undo(ctx); err != nil || !r.Success {
		t.Fatalf("Undo() = %+v, %v", r, err)
	}
	if got := f.text(t); got != "" {
		t.Fatalf("text = %q, want empty", got)
	}
	if diff := cmp.Diff([]pair{{0, 1}, {1, 2}}, pairs(f.chain(t))); diff != "" {
		t.Fatalf("chain mismatch (-want +got):\n%s", diff)
	}
}

func TestSession_ReceivePushRev(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_ = f.s.Insert(ctx, 0, "abc")

	f.s.Receive(f.remoteRev(t, 1, 2, delta.Delta{}.Retain(3, nil).Insert("!", nil)))
	eventually(t, func() bool {
		doc, _ := f.s.Doc(ctx)
		return doc.RevID == 2 && doc.Data == "abc!"
	})

	// base 超前：不修改本地，向对端请求缺失区间
	f.s.Receive(f.remoteRev(t, 5, 6, delta.Delta{}.Insert("zzz", nil)))
	eventually(t, func() bool { return len(f.ws.ofType(entity.WsPullRev)) == 1 })
	rng, err := entity.RevisionRangeFromBytes(f.ws.ofType(entity.WsPullRev)[0].Data)
	if err != nil || rng.Start != 3 || rng.End != 6 {
		t.Fatalf("PullRev range = %+v, %v", rng, err)
	}

	// 过时的版本和越界的 delta 都被忽略
	f.s.Receive(f.remoteRev(t, 0, 1, delta.Delta{}.Insert("old", nil)))
	f.s.Receive(f.remoteRev(t, 2, 3, delta.Delta{}.Retain(50, nil).Insert("?", nil)))
	f.s.Receive(entity.WsDocumentData{DocID: "doc-1", Ty: entity.WsPushRev, Data: []byte("garbage")})

	doc, _ := f.s.Doc(ctx)
	if doc.Data != "abc!" || doc.RevID != 2 {
		t.Fatalf("Doc() = %+v, want abc!@2", doc)
	}
	if diff := cmp.Diff([]pair{{0, 1}, {1, 2}}, pairs(f.chain(t))); diff != "" {
		t.Fatalf("chain mismatch (-want +got):\n%s", diff)
	}
	// 远端的修改不能被本地撤销
	if r, _ := f.s.Undo(ctx); !r.Success {
		t.Fatalf("Undo() should undo the local insert")
	}
	if got := f.text(t); got != "!" {
		t.Fatalf("text after undo = %q, want %q", got, "!")
	}
}

func TestSession_UndoKeepsRemoteInsert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if err := f.s.Insert(ctx, 0, "abc"); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	f.s.Receive(f.remoteRev(t, 1, 2, delta.Delta{}.Insert("XY", nil)))
	eventually(t, func() bool { return f.text(t) == "XYabc" })

	r, err := f.s.Undo(ctx)
	if err != nil || !r.Success {
		t.Fatalf("Undo() = %+v, %v", r, err)
	}
	if got := f.text(t); got != "XY" {
		t.Fatalf("text after undo = %q, want %q", got, "XY")
	}
	chain := f.chain(t)
	if diff := cmp.Diff([]pair{{0, 1}, {1, 2}, {2, 3}}, pairs(chain)); diff != "" {
		t.Fatalf("chain mismatch (-want +got):\n%s", diff)
	}
	undo, err := delta.FromBytes(chain[2].DeltaData)
	if err != nil {
		t.Fatalf("FromBytes() error = %v", err)
	}
	if diff := cmp.Diff(delta.Delta{}.Retain(2, nil).Delete(3), undo); diff != "" {
		t.Fatalf("undo revision mismatch (-want +got):\n%s", diff)
	}

	if _, err := f.s.Redo(ctx); err != nil {
		t.Fatalf("Redo() error = %v", err)
	}
	if got := f.text(t); got != "XYabc" {
		t.Fatalf("text after redo = %q, want %q", got, "XYabc")
	}
}

func TestSession_ReceiveAckPullAndPresence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_ = f.s.Insert(ctx, 0, "a")
	_ = f.s.Insert(ctx, 1, "b")

	f.s.Receive(entity.WsDocumentData{DocID: "doc-1", Ty: entity.WsAcked, Data: entity.RevID(1).Bytes()})
	f.s.Receive(entity.WsDocumentData{DocID: "doc-1", Ty: entity.WsAcked, Data: entity.RevID(1).Bytes()})
	eventually(t, func() bool { return cmp.Equal([]entity.RevID{2}, f.s.PendingRevisionIDs()) })

	before := len(f.ws.ofType(entity.WsPushRev))
	rng, _ := entity.RevisionRange{DocID: "doc-1", Start: 1, End: 2}.Bytes()
	f.s.Receive(entity.WsDocumentData{DocID: "doc-1", Ty: entity.WsPullRev, Data: rng})
	eventually(t, func() bool { return len(f.ws.ofType(entity.WsPushRev)) == before+2 })

	u, _ := entity.NewDocUser{UserID: "u2", RevID: 2}.Bytes()
	f.s.Receive(entity.WsDocumentData{DocID: "doc-1", Ty: entity.WsNewDocUser, Data: u})
	got := <-f.deps.Presence.(*recordingPresence).users
	if got.UserID != "u2" || got.DocID != "doc-1" {
		t.Fatalf("presence user = %+v", got)
	}
}

func TestSession_ConflictRequestsMissingRange(t *testing.T) {
	f := newFixture(t)
	f.s.Receive(entity.WsDocumentData{DocID: "doc-1", Ty: entity.WsConflict})
	f.s.Receive(entity.WsDocumentData{DocID: "doc-1", Ty: entity.WsConflict, Data: entity.RevID(4).Bytes()})
	eventually(t, func() bool { return len(f.ws.ofType(entity.WsPullRev)) == 1 })
	rng, err := entity.RevisionRangeFromBytes(f.ws.ofType(entity.WsPullRev)[0].Data)
	if err != nil || rng.Start != 1 || rng.End != 4 {
		t.Fatalf("PullRev range = %+v, %v", rng, err)
	}
}

func TestSession_RetransmitOnReconnect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.s.StateChanged(entity.WsDisconnected)
	_ = f.s.Insert(ctx, 0, "a")
	_ = f.s.Insert(ctx, 1, "b")
	if got := len(f.ws.ofType(entity.WsPushRev)); got != 0 {
		t.Fatalf("pushed %d while disconnected", got)
	}
	f.s.StateChanged(entity.WsConnected)
	var ids []entity.RevID
	for _, d := range f.ws.ofType(entity.WsPushRev) {
		r, _ := entity.RevisionFromBytes(d.Data)
		ids = append(ids, r.RevID)
	}
	if diff := cmp.Diff([]entity.RevID{1, 2}, ids); diff != "" {
		t.Fatalf("retransmit mismatch (-want +got):\n%s", diff)
	}
}

func TestOpen_FailuresAbort(t *testing.T) {
	ctx := context.Background()
	base := Deps{Persistence: revision.NewMemoryPersistence(), Server: emptyServer{}, Transport: &recordingTransport{}}

	deps := base
	deps.User = staticUser{err: errors.New("not logged in")}
	if _, err := Open(ctx, "doc-1", deps); !errors.Is(err, entity.ErrIdentity) {
		t.Fatalf("Open() error = %v, want %v", err, entity.ErrIdentity)
	}

	deps = base
	deps.User = staticUser{id: "u1"}
	deps.Server = emptyServer{err: entity.ErrUnreachable}
	if _, err := Open(ctx, "doc-1", deps); !errors.Is(err, entity.ErrUnreachable) {
		t.Fatalf("Open() error = %v, want %v", err, entity.ErrUnreachable)
	}
}

func TestSession_ClosedRejectsEdits(t *testing.T) {
	f := newFixture(t)
	f.s.Close()
	if err := f.s.Insert(context.Background(), 0, "a"); !errors.Is(err, entity.ErrSessionClosed) {
		t.Fatalf("Insert() error = %v, want %v", err, entity.ErrSessionClosed)
	}
	if f.s.CanUndo(context.Background()) {
		t.Fatalf("CanUndo() = true on closed session")
	}
	f.s.Receive(entity.WsDocumentData{DocID: "doc-1", Ty: entity.WsAcked, Data: entity.RevID(1).Bytes()})
}
