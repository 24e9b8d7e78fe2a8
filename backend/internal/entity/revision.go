package entity

import (
	"encoding/json"
	"fmt"
	"math"
)

// RevID 文档内严格递增的版本号，0 表示还没有任何提交
type RevID uint64

func (r RevID) Next() RevID { return r + 1 }

func (r RevID) Bytes() []byte {
	b, _ := json.Marshal(uint64(r))
	return b
}

func RevIDFromBytes(b []byte) (RevID, error) {
	var v uint64
	if err := json.Unmarshal(b, &v); err != nil {
		return 0, fmt.Errorf("%w: rev id: %v", ErrMalformedPayload, err)
	}
	return RevID(v), nil
}

type RevType string

const (
	RevLocal  RevType = "local"
	RevRemote RevType = "remote"
)

// Revision 一次已提交的变更，RevID 必须等于 BaseRevID+1
type Revision struct {
	BaseRevID RevID   `json:"base_rev_id"`
	RevID     RevID   `json:"rev_id"`
	DeltaData []byte  `json:"delta_data"`
	DocID     string  `json:"doc_id"`
	Ty        RevType `json:"ty"`
}

func NewRevision(base, rev RevID, deltaData []byte, docID string, ty RevType) Revision {
	return Revision{BaseRevID: base, RevID: rev, DeltaData: deltaData, DocID: docID, Ty: ty}
}

func (r Revision) Validate() error {
	if r.DocID == "" {
		return fmt.Errorf("%w: revision without doc id", ErrMalformedPayload)
	}
	// base 为最大值时 base+1 会回绕成 0
	if r.BaseRevID == math.MaxUint64 || r.RevID != r.BaseRevID+1 {
		return fmt.Errorf("%w: rev %d does not follow base %d", ErrMalformedPayload, r.RevID, r.BaseRevID)
	}
	return nil
}

func (r Revision) Bytes() ([]byte, error) { return json.Marshal(r) }

func RevisionFromBytes(b []byte) (Revision, error) {
	var r Revision
	if err := json.Unmarshal(b, &r); err != nil {
		return Revision{}, fmt.Errorf("%w: revision: %v", ErrMalformedPayload, err)
	}
	if err := r.Validate(); err != nil {
		return Revision{}, err
	}
	return r, nil
}

// RevisionRange 闭区间 [Start, End]，用于请求重传一段连续的版本
type RevisionRange struct {
	DocID string `json:"doc_id"`
	Start RevID  `json:"start"`
	End   RevID  `json:"end"`
}

func (r RevisionRange) Len() int {
	if r.End < r.Start {
		return 0
	}
	return int(r.End-r.Start) + 1
}

func (r RevisionRange) Validate() error {
	if r.Start == 0 || r.End < r.Start {
		return fmt.Errorf("%w: range [%d,%d]", ErrMalformedPayload, r.Start, r.End)
	}
	return nil
}

func (r RevisionRange) Bytes() ([]byte, error) { return json.Marshal(r) }

func RevisionRangeFromBytes(b []byte) (RevisionRange, error) {
	var r RevisionRange
	if err := json.Unmarshal(b, &r); err != nil {
		return RevisionRange{}, fmt.Errorf("%w: range: %v", ErrMalformedPayload, err)
	}
	if err := r.Validate(); err != nil {
		return RevisionRange{}, err
	}
	return r, nil
}
