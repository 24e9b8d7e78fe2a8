package collab

import (
	"time"

	"collabClient/backend/internal/entity"
	"collabClient/backend/internal/ot/delta"

	"github.com/google/uuid"
)

const EventRevisionCommitted = "REVISION_COMMITTED"

// RevisionEvent 本地提交的版本，发往 Kafka 做审计/统计
type RevisionEvent struct {
	EventType    string      `json:"eventType"`
	DocID        string      `json:"docId"`
	OperationID  string      `json:"operationId"`
	Revision     uint64      `json:"revision"`
	BaseRevision uint64      `json:"baseRevision"`
	AuthorID     string      `json:"authorId"`
	Origin       string      `json:"origin"`
	Ops          delta.Delta `json:"ops"`
	AppliedAt    time.Time   `json:"appliedAt"`
}

func NewRevisionEvent(rev entity.Revision, author string, ops delta.Delta) RevisionEvent {
	return RevisionEvent{
		EventType:    EventRevisionCommitted,
		DocID:        rev.DocID,
		OperationID:  uuid.NewString(),
		Revision:     uint64(rev.RevID),
		BaseRevision: uint64(rev.BaseRevID),
		AuthorID:     author,
		Origin:       string(rev.Ty),
		Ops:          ops,
		AppliedAt:    time.Now().UTC(),
	}
}
