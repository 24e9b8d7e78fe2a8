package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"collabClient/backend/internal/entity"
	"collabClient/backend/internal/ot/delta"
	"collabClient/backend/internal/revision"

	"golang.org/x/sync/singleflight"
)

type documentResponse struct {
	DocID string          `json:"doc_id"`
	RevID uint64          `json:"rev_id"`
	Data  json.RawMessage `json:"data"`
}

// HTTPServer 通过 HTTP 拉取服务端的权威文档，同一文档的并发请求合并为一次
type HTTPServer struct {
	baseURL string
	token   string
	client  *http.Client
	group   singleflight.Group
}

// baseURL 不要带路径，例如 http://localhost:3002
func NewHTTPServer(baseURL, token string, timeout time.Duration) *HTTPServer {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPServer{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// FetchDocument 服务端还没有该文档（404）时视为 rev 0 的空文档
func (s *HTTPServer) FetchDocument(ctx context.Context, docID string) (revision.DocRevision, error) {
	v, err, _ := s.group.Do(docID, func() (any, error) {
		return s.fetch(ctx, docID)
	})
	if err != nil {
		return revision.DocRevision{}, err
	}
	return v.(revision.DocRevision), nil
}

func (s *HTTPServer) fetch(ctx context.Context, docID string) (revision.DocRevision, error) {
	u := s.baseURL + "/v1/documents/" + url.PathEscape(docID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return revision.DocRevision{}, err
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return revision.DocRevision{}, fmt.Errorf("%w: fetch %s: %w", entity.ErrUnreachable, docID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return revision.DocRevision{}, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return revision.DocRevision{}, fmt.Errorf("%w: fetch %s: status %d", entity.ErrIdentity, docID, resp.StatusCode)
	default:
		return revision.DocRevision{}, fmt.Errorf("%w: fetch %s: status %d", entity.ErrUnreachable, docID, resp.StatusCode)
	}

	var body documentResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return revision.DocRevision{}, fmt.Errorf("%w: document %s: %v", entity.ErrMalformedPayload, docID, err)
	}
	var d delta.Delta
	if len(body.Data) > 0 && string(body.Data) != "null" {
		if d, err = delta.FromBytes(body.Data); err != nil {
			return revision.DocRevision{}, fmt.Errorf("%w: document %s: %w", entity.ErrMalformedPayload, docID, err)
		}
	}
	return revision.DocRevision{RevID: entity.RevID(body.RevID), Delta: d}, nil
}
