package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"collabClient/backend/internal/entity"
)

func newTestServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/v1/documents/doc-1":
			_, _ = w.Write([]byte(`{"doc_id":"doc-1","rev_id":3,"data":[{"kind":"insert","text":"hello"}]}`))
		case "/v1/documents/broken":
			_, _ = w.Write([]byte(`{"doc_id":"broken","rev_id":1,"data":[{"kind":"jump"}]}`))
		case "/v1/documents/down":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestHTTPServer_FetchDocument(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	ctx := context.Background()
	s := NewHTTPServer(srv.URL+"/", "tok", 0)

	doc, err := s.FetchDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("FetchDocument() error = %v", err)
	}
	if doc.RevID != 3 || doc.Delta.Text() != "hello" {
		t.Fatalf("FetchDocument() = (%d, %q)", doc.RevID, doc.Delta.Text())
	}

	doc, err = s.FetchDocument(ctx, "missing")
	if err != nil || doc.RevID != 0 || len(doc.Delta) != 0 {
		t.Fatalf("missing document = %+v, %v", doc, err)
	}
	if _, err := s.FetchDocument(ctx, "broken"); !errors.Is(err, entity.ErrMalformedPayload) {
		t.Fatalf("broken error = %v, want %v", err, entity.ErrMalformedPayload)
	}
	if _, err := s.FetchDocument(ctx, "down"); !errors.Is(err, entity.ErrUnreachable) {
		t.Fatalf("down error = %v, want %v", err, entity.ErrUnreachable)
	}
	if _, err := NewHTTPServer(srv.URL, "bad", 0).FetchDocument(ctx, "doc-1"); !errors.Is(err, entity.ErrIdentity) {
		t.Fatalf("unauthorized error = %v, want %v", err, entity.ErrIdentity)
	}
}
