package store

import (
	"context"
	"fmt"
	"time"

	"collabClient/backend/internal/entity"

	"gorm.io/gorm"
)

// RevisionRow 版本日志，(doc_id, rev_id) 唯一
type RevisionRow struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	DocID     string `gorm:"size:64;not null;uniqueIndex:uk_doc_rev,priority:1"`
	RevID     uint64 `gorm:"not null;uniqueIndex:uk_doc_rev,priority:2"`
	BaseRevID uint64 `gorm:"not null"`
	DeltaData []byte `gorm:"type:longblob"`
	Ty        string `gorm:"size:16;not null"`
	CreatedAt time.Time
}

func (RevisionRow) TableName() string { return "doc_revisions" }

func (r RevisionRow) toEntity() entity.Revision {
	return entity.NewRevision(entity.RevID(r.BaseRevID), entity.RevID(r.RevID), r.DeltaData, r.DocID, entity.RevType(r.Ty))
}

type GormRevisionStore struct{ db *gorm.DB }

func NewGormRevisionStore(db *gorm.DB) *GormRevisionStore {
	return &GormRevisionStore{db: db}
}

// AppendRevision 在事务里检查链的连续性，唯一索引兜底并发写入
func (s *GormRevisionStore) AppendRevision(ctx context.Context, rev entity.Revision) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var head uint64
		if err := tx.Model(&RevisionRow{}).
			Where("doc_id = ?", rev.DocID).
			Select("COALESCE(MAX(rev_id), 0)").
			Scan(&head).Error; err != nil {
			return err
		}
		if head > 0 {
			if uint64(rev.RevID) <= head {
				return fmt.Errorf("%w: %s rev %d", entity.ErrDuplicateRevision, rev.DocID, rev.RevID)
			}
			if uint64(rev.BaseRevID) != head {
				return fmt.Errorf("%w: %s base %d after %d", entity.ErrChainBroken, rev.DocID, rev.BaseRevID, head)
			}
		}
		row := RevisionRow{
			DocID:     rev.DocID,
			RevID:     uint64(rev.RevID),
			BaseRevID: uint64(rev.BaseRevID),
			DeltaData: rev.DeltaData,
			Ty:        string(rev.Ty),
		}
		if err := tx.Create(&row).Error; err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: %s rev %d", entity.ErrDuplicateRevision, rev.DocID, rev.RevID)
			}
			return err
		}
		return nil
	})
}

func (s *GormRevisionStore) ReadRevisions(ctx context.Context, docID string, rng *entity.RevisionRange) ([]entity.Revision, error) {
	q := s.db.WithContext(ctx).Where("doc_id = ?", docID)
	if rng != nil {
		q = q.Where("rev_id BETWEEN ? AND ?", uint64(rng.Start), uint64(rng.End))
	}
	var rows []RevisionRow
	if err := q.Order("rev_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	revs := make([]entity.Revision, 0, len(rows))
	for _, r := range rows {
		revs = append(revs, r.toEntity())
	}
	return revs, nil
}
