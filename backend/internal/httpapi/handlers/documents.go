package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"collabClient/backend/internal/cache"
	"collabClient/backend/internal/edit"
	"collabClient/backend/internal/entity"
	"collabClient/backend/internal/ot/delta"
)

// MemberLister 查询文档当前在线的协作者
type MemberLister interface {
	AliveMembers(ctx context.Context, docID string) ([]cache.PresenceMember, error)
}

// SnapshotReader 读取关闭文档时保存的最近一次快照
type SnapshotReader interface {
	LatestSnapshot(ctx context.Context, docID string) (rev uint64, content string, ok bool, err error)
}

type DocumentHandler struct {
	sessions  *edit.Manager
	members   MemberLister
	snapshots SnapshotReader
}

// members 和 snapshots 可以为 nil
func NewDocumentHandler(sessions *edit.Manager, members MemberLister, snapshots SnapshotReader) *DocumentHandler {
	return &DocumentHandler{sessions: sessions, members: members, snapshots: snapshots}
}

type insertReq struct {
	Index int    `json:"index"`
	Text  string `json:"text" binding:"required"`
}

type rangeReq struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type formatReq struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Key   string `json:"key" binding:"required"`
	Value any    `json:"value"`
}

type replaceReq struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

type textReq struct {
	Text string `json:"text"`
}

// Register 挂载文档相关路由
func (h *DocumentHandler) Register(r gin.IRouter) {
	r.GET("", h.List)
	r.POST("/:docID/open", h.Open)
	r.DELETE("/:docID", h.Close)
	r.GET("/:docID", h.Get)
	r.GET("/:docID/delta", h.Delta)
	r.GET("/:docID/history", h.History)
	r.GET("/:docID/members", h.Members)
	r.GET("/:docID/snapshot", h.Snapshot)
	r.POST("/:docID/insert", h.Insert)
	r.POST("/:docID/delete", h.Delete)
	r.POST("/:docID/format", h.Format)
	r.POST("/:docID/replace", h.Replace)
	r.POST("/:docID/compose", h.Compose)
	r.PUT("/:docID/text", h.SetText)
	r.POST("/:docID/undo", h.Undo)
	r.POST("/:docID/redo", h.Redo)
}

func (h *DocumentHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"docIds": h.sessions.DocIDs()})
}

func (h *DocumentHandler) Open(c *gin.Context) {
	s, err := h.sessions.Open(c.Request.Context(), c.Param("docID"))
	if err != nil {
		writeError(c, err)
		return
	}
	h.writeDoc(c, s)
}

func (h *DocumentHandler) Close(c *gin.Context) {
	if err := h.sessions.Close(c.Request.Context(), c.Param("docID")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	h.writeDoc(c, s)
}

func (h *DocumentHandler) Delta(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	d, err := s.Delta(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if d == nil {
		d = delta.Delta{}
	}
	c.JSON(http.StatusOK, gin.H{"docId": s.DocID(), "delta": d})
}

func (h *DocumentHandler) History(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	c.JSON(http.StatusOK, gin.H{
		"canUndo": s.CanUndo(ctx),
		"canRedo": s.CanRedo(ctx),
		"pending": s.PendingRevisionIDs(),
	})
}

func (h *DocumentHandler) Members(c *gin.Context) {
	if h.members == nil {
		c.JSON(http.StatusOK, gin.H{"members": []cache.PresenceMember{}})
		return
	}
	members, err := h.members.AliveMembers(c.Request.Context(), c.Param("docID"))
	if err != nil {
		writeError(c, err)
		return
	}
	if members == nil {
		members = []cache.PresenceMember{}
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// Snapshot 不需要文档处于打开状态
func (h *DocumentHandler) Snapshot(c *gin.Context) {
	docID := c.Param("docID")
	if h.snapshots == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "SNAPSHOT_NOT_FOUND", "docId": docID})
		return
	}
	rev, content, ok, err := h.snapshots.LatestSnapshot(c.Request.Context(), docID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": "SNAPSHOT_NOT_FOUND", "docId": docID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"docId": docID, "revId": rev, "data": content})
}

func (h *DocumentHandler) Insert(c *gin.Context) {
	var req insertReq
	h.edit(c, &req, func(ctx context.Context, s *edit.Session) error {
		return s.Insert(ctx, req.Index, req.Text)
	})
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	var req rangeReq
	h.edit(c, &req, func(ctx context.Context, s *edit.Session) error {
		return s.Delete(ctx, delta.NewInterval(req.Start, req.End))
	})
}

func (h *DocumentHandler) Format(c *gin.Context) {
	var req formatReq
	h.edit(c, &req, func(ctx context.Context, s *edit.Session) error {
		return s.Format(ctx, delta.NewInterval(req.Start, req.End), delta.Attribute{Key: req.Key, Value: req.Value})
	})
}

func (h *DocumentHandler) Replace(c *gin.Context) {
	var req replaceReq
	h.edit(c, &req, func(ctx context.Context, s *edit.Session) error {
		return s.Replace(ctx, delta.NewInterval(req.Start, req.End), req.Text)
	})
}

func (h *DocumentHandler) SetText(c *gin.Context) {
	var req textReq
	h.edit(c, &req, func(ctx context.Context, s *edit.Session) error {
		return s.SetText(ctx, req.Text)
	})
}

// Compose 请求体就是 Delta 的 JSON
func (h *DocumentHandler) Compose(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.ComposeLocalDelta(c.Request.Context(), body); err != nil {
		writeError(c, err)
		return
	}
	h.writeDoc(c, s)
}

func (h *DocumentHandler) Undo(c *gin.Context) {
	h.history(c, (*edit.Session).Undo)
}

func (h *DocumentHandler) Redo(c *gin.Context) {
	h.history(c, (*edit.Session).Redo)
}

func (h *DocumentHandler) history(c *gin.Context, fn func(*edit.Session, context.Context) (entity.UndoResult, error)) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	res, err := fn(s, c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": res.Success, "interval": res.Interval})
}

// edit 解析请求体、执行编辑并返回最新文档
func (h *DocumentHandler) edit(c *gin.Context, req any, fn func(context.Context, *edit.Session) error) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := fn(c.Request.Context(), s); err != nil {
		writeError(c, err)
		return
	}
	h.writeDoc(c, s)
}

func (h *DocumentHandler) session(c *gin.Context) (*edit.Session, bool) {
	docID := c.Param("docID")
	s, ok := h.sessions.Get(docID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": edit.ErrSessionNotOpen.Error(), "docId": docID})
		return nil, false
	}
	return s, true
}

func (h *DocumentHandler) writeDoc(c *gin.Context, s *edit.Session) {
	doc, err := s.Doc(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"docId": doc.ID, "revId": doc.RevID, "data": doc.Data})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, entity.ErrOutOfRange),
		errors.Is(err, entity.ErrMalformedPayload),
		errors.Is(err, delta.ErrInvalidDelta),
		errors.Is(err, delta.ErrLengthMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, edit.ErrSessionNotOpen):
		status = http.StatusNotFound
	case errors.Is(err, entity.ErrIdentity):
		status = http.StatusUnauthorized
	case errors.Is(err, entity.ErrUnreachable):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
