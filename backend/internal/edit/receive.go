package edit

import (
	"context"
	"fmt"

	"collabClient/backend/internal/entity"
	"collabClient/backend/internal/ot/delta"
)

// Receive 传输层的回调，只负责入队，按到达顺序由单个 goroutine 处理
func (s *Session) Receive(data entity.WsDocumentData) {
	select {
	case s.inbox <- data:
	case <-s.quit:
		s.log.Debug("drop message for closed session", "ty", data.Ty)
	}
}

// StateChanged 连接状态变化，重连时重传未确认的版本
func (s *Session) StateChanged(state entity.WsState) {
	s.revs.HandleConnectionStateChanged(state)
}

func (s *Session) receiveLoop() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case data := <-s.inbox:
			s.handleMessage(data)
		}
	}
}

// handleMessage 没有同步调用方，所有错误只记日志
func (s *Session) handleMessage(data entity.WsDocumentData) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("handle ws message panicked", "ty", data.Ty, "panic", r)
		}
	}()
	ctx := context.Background()
	var err error
	switch data.Ty {
	case entity.WsPushRev:
		err = s.handlePushRev(ctx, data.Data)
	case entity.WsPullRev:
		var rng entity.RevisionRange
		if rng, err = entity.RevisionRangeFromBytes(data.Data); err == nil {
			err = s.revs.SendRevisions(ctx, rng)
		}
	case entity.WsAcked:
		var rev entity.RevID
		if rev, err = entity.RevIDFromBytes(data.Data); err == nil {
			s.revs.AckRevision(rev)
		}
	case entity.WsNewDocUser:
		err = s.handleNewDocUser(ctx, data.Data)
	case entity.WsConflict:
		err = s.handleConflict(data.Data)
	default:
		err = fmt.Errorf("%w: unknown ws data type %q", entity.ErrMalformedPayload, data.Ty)
	}
	if err != nil {
		s.log.Error("handle ws message failed", "ty", data.Ty, "err", err)
	}
}

// handlePushRev 只接受 base 等于本地 head 的版本；落后时向对端请求缺失的区间，
// 过时的版本直接忽略，本地状态不变
func (s *Session) handlePushRev(ctx context.Context, payload []byte) error {
	rev, err := entity.RevisionFromBytes(payload)
	if err != nil {
		return err
	}
	if rev.DocID != s.docID {
		return fmt.Errorf("%w: revision of %s delivered to %s", entity.ErrMalformedPayload, rev.DocID, s.docID)
	}
	d, err := delta.FromBytes(rev.DeltaData)
	if err != nil {
		return fmt.Errorf("%w: %w", entity.ErrMalformedPayload, err)
	}

	if err := s.commitLock.Acquire(ctx); err != nil {
		return err
	}
	defer s.commitLock.Release()

	head := s.revs.CurrentRevisionID()
	switch {
	case rev.BaseRevID > head:
		s.log.Warn("remote revision ahead of local head, requesting range", "base", rev.BaseRevID, "head", head)
		return s.revs.RequestRevisions(entity.RevisionRange{Start: head + 1, End: rev.RevID})
	case rev.BaseRevID < head:
		s.log.Info("ignore stale remote revision", "rev_id", rev.RevID, "head", head)
		return nil
	}

	change, err := s.editor.ApplyDelta(ctx, d)
	if err != nil {
		return err
	}
	if err := s.revs.ApplyRemoteRevision(ctx, rev); err != nil {
		if rbErr := s.editor.Rollback(ctx, change); rbErr != nil {
			s.log.Error("rollback failed", "rev_id", rev.RevID, "err", rbErr)
		}
		return err
	}
	return s.editor.SaveDocument(ctx, rev.RevID)
}

func (s *Session) handleNewDocUser(ctx context.Context, payload []byte) error {
	user, err := entity.NewDocUserFromBytes(payload)
	if err != nil {
		return err
	}
	if s.presence == nil {
		s.log.Debug("new doc user", "user_id", user.UserID)
		return nil
	}
	if user.DocID == "" {
		user.DocID = s.docID
	}
	return s.presence.OnNewDocUser(ctx, user)
}

// handleConflict 对端带上了自己的 head 时拉取缺失的版本，否则只记录
func (s *Session) handleConflict(payload []byte) error {
	if len(payload) == 0 {
		s.log.Warn("conflict reported without remote head")
		return nil
	}
	remote, err := entity.RevIDFromBytes(payload)
	if err != nil {
		return err
	}
	head := s.revs.CurrentRevisionID()
	s.log.Warn("conflict reported", "remote_head", remote, "head", head)
	if remote <= head {
		return nil
	}
	return s.revs.RequestRevisions(entity.RevisionRange{Start: head + 1, End: remote})
}
