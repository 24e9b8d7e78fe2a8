package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SnapshotRow 只用于建表，读写走 database/sql
type SnapshotRow struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	DocumentID string `gorm:"column:document_id;size:64;not null;uniqueIndex:uk_doc_snapshot,priority:1"`
	Revision   uint64 `gorm:"not null;uniqueIndex:uk_doc_snapshot,priority:2"`
	Content    string `gorm:"type:longtext"`
	CreatedAt  time.Time
}

func (SnapshotRow) TableName() string { return "document_snapshots" }

type SnapshotStore struct{ db *sql.DB }

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// SaveDocumentSnapshot 同一版本重复保存时忽略
func (s *SnapshotStore) SaveDocumentSnapshot(ctx context.Context, docID string, rev uint64, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO document_snapshots (document_id, revision, content, created_at)
		VALUES (?, ?, ?, ?)`,
		docID,
		rev,
		content,
		time.Now().UTC(),
	)
	if err != nil && !isDuplicateKey(err) {
		return err
	}
	return nil
}

// LatestSnapshot 没有快照时 ok 为 false
func (s *SnapshotStore) LatestSnapshot(ctx context.Context, docID string) (rev uint64, content string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT revision, content FROM document_snapshots
		WHERE document_id = ? ORDER BY revision DESC LIMIT 1`,
		docID,
	).Scan(&rev, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, err
	}
	return rev, content, true, nil
}
