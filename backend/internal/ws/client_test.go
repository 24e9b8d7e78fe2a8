package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"collabClient/backend/internal/entity"

	"github.com/gorilla/websocket"
)

type recordingHandler struct {
	mu       sync.Mutex
	received []entity.WsDocumentData
	states   chan entity.WsState
	inbox    chan entity.WsDocumentData
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{states: make(chan entity.WsState, 8), inbox: make(chan entity.WsDocumentData, 8)}
}

func (h *recordingHandler) Receive(data entity.WsDocumentData) {
	h.mu.Lock()
	h.received = append(h.received, data)
	h.mu.Unlock()
	h.inbox <- data
}

func (h *recordingHandler) StateChanged(state entity.WsState) { h.states <- state }

func waitState(t *testing.T, h *recordingHandler, want entity.WsState) {
	t.Helper()
	select {
	case got := <-h.states:
		if got != want {
			t.Fatalf("state = %v, want %v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for state %v", want)
	}
}

// echoAckServer 收到 PushRev 后回一个 Acked
func echoAckServer(t *testing.T, gotAuth chan<- string) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade() error = %v", err)
			return
		}
		defer conn.Close()
		for {
			var data entity.WsDocumentData
			if err := conn.ReadJSON(&data); err != nil {
				return
			}
			if data.Ty != entity.WsPushRev {
				continue
			}
			rev, err := entity.RevisionFromBytes(data.Data)
			if err != nil {
				t.Errorf("RevisionFromBytes() error = %v", err)
				return
			}
			_ = conn.WriteJSON(entity.WsDocumentData{DocID: data.DocID, Ty: entity.WsAcked, Data: rev.RevID.Bytes()})
		}
	}))
}

func TestClient_SendAndDispatch(t *testing.T) {
	gotAuth := make(chan string, 1)
	srv := echoAckServer(t, gotAuth)
	defer srv.Close()

	hub := NewHub(nil)
	h := newRecordingHandler()
	hub.Register("doc-1", h)

	client := NewClient(hub, ClientOptions{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Token: "tok"})
	if err := client.Send(entity.WsDocumentData{DocID: "doc-1"}); err != entity.ErrNotConnected {
		t.Fatalf("Send() before connect error = %v, want %v", err, entity.ErrNotConnected)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx) }()

	waitState(t, h, entity.WsConnected)
	if auth := <-gotAuth; auth != "Bearer tok" {
		t.Fatalf("Authorization = %q, want %q", auth, "Bearer tok")
	}

	rev := entity.NewRevision(0, 1, []byte(`[]`), "doc-1", entity.RevLocal)
	b, _ := rev.Bytes()
	if err := client.Send(entity.WsDocumentData{DocID: "doc-1", Ty: entity.WsPushRev, Data: b}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	select {
	case got := <-h.inbox:
		id, err := entity.RevIDFromBytes(got.Data)
		if got.Ty != entity.WsAcked || err != nil || id != 1 {
			t.Fatalf("received = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for ack")
	}

	cancel()
	waitState(t, h, entity.WsDisconnected)
	if err := <-runErr; err != context.Canceled {
		t.Fatalf("Run() error = %v, want %v", err, context.Canceled)
	}
}

func TestHub_DispatchUnknownDocIsDropped(t *testing.T) {
	hub := NewHub(nil)
	h := newRecordingHandler()
	hub.Register("doc-1", h)
	hub.Dispatch(entity.WsDocumentData{DocID: "doc-2", Ty: entity.WsAcked})
	hub.Unregister("doc-1")
	hub.Dispatch(entity.WsDocumentData{DocID: "doc-1", Ty: entity.WsAcked})
	if len(h.received) != 0 {
		t.Fatalf("received = %v, want none", h.received)
	}
}

func TestHub_SetStateNotifiesOnChange(t *testing.T) {
	hub := NewHub(nil)
	h := newRecordingHandler()
	hub.Register("doc-1", h)
	hub.SetState(entity.WsDisconnected)
	hub.SetState(entity.WsConnected)
	hub.SetState(entity.WsConnected)
	if len(h.states) != 1 {
		t.Fatalf("notifications = %d, want 1", len(h.states))
	}
	if hub.State() != entity.WsConnected {
		t.Fatalf("State() = %v, want %v", hub.State(), entity.WsConnected)
	}
}
