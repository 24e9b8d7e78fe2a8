package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"collabClient/backend/internal/entity"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

func TestIsDuplicateKey(t *testing.T) {
	dup := fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	if !isDuplicateKey(dup) {
		t.Fatalf("isDuplicateKey(1062) = false, want true")
	}
	if isDuplicateKey(&mysql.MySQLError{Number: 1213}) || isDuplicateKey(errors.New("x")) {
		t.Fatalf("isDuplicateKey() = true for non duplicate error")
	}
}

// 需要可用的 MySQL：COLLAB_TEST_MYSQL_DSN="user:pass@tcp(127.0.0.1:3306)/collab_test?parseTime=true"
func openTestDB(t *testing.T) *GormRevisionStore {
	t.Helper()
	dsn := os.Getenv("COLLAB_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("skip: COLLAB_TEST_MYSQL_DSN not set")
	}
	db, err := InitMySQL(dsn)
	if err != nil {
		t.Skipf("skip: mysql not available: %v", err)
	}
	return NewGormRevisionStore(db)
}

func TestGormRevisionStore_AppendAndRead(t *testing.T) {
	s := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	docID := "test-" + uuid.NewString()

	for i := entity.RevID(0); i < 3; i++ {
		if err := s.AppendRevision(ctx, entity.NewRevision(i, i+1, []byte(`[]`), docID, entity.RevLocal)); err != nil {
			t.Fatalf("AppendRevision(%d) error = %v", i+1, err)
		}
	}
	if err := s.AppendRevision(ctx, entity.NewRevision(1, 2, []byte(`[]`), docID, entity.RevLocal)); !errors.Is(err, entity.ErrDuplicateRevision) {
		t.Fatalf("duplicate AppendRevision() error = %v, want %v", err, entity.ErrDuplicateRevision)
	}
	if err := s.AppendRevision(ctx, entity.NewRevision(5, 6, []byte(`[]`), docID, entity.RevLocal)); !errors.Is(err, entity.ErrChainBroken) {
		t.Fatalf("gap AppendRevision() error = %v, want %v", err, entity.ErrChainBroken)
	}

	revs, err := s.ReadRevisions(ctx, docID, &entity.RevisionRange{Start: 2, End: 3})
	if err != nil {
		t.Fatalf("ReadRevisions() error = %v", err)
	}
	if len(revs) != 2 || revs[0].RevID != 2 || revs[1].RevID != 3 {
		t.Fatalf("ReadRevisions() = %+v", revs)
	}

	snaps := NewSnapshotStore(mustSQLDB(t, s))
	if err := snaps.SaveDocumentSnapshot(ctx, docID, 3, "abc"); err != nil {
		t.Fatalf("SaveDocumentSnapshot() error = %v", err)
	}
	if err := snaps.SaveDocumentSnapshot(ctx, docID, 3, "abc"); err != nil {
		t.Fatalf("duplicate SaveDocumentSnapshot() error = %v", err)
	}
	rev, content, ok, err := snaps.LatestSnapshot(ctx, docID)
	if err != nil || !ok || rev != 3 || content != "abc" {
		t.Fatalf("LatestSnapshot() = %d, %q, %v, %v", rev, content, ok, err)
	}
}

func mustSQLDB(t *testing.T, s *GormRevisionStore) *sql.DB {
	t.Helper()
	db, err := s.db.DB()
	if err != nil {
		t.Fatalf("DB() error = %v", err)
	}
	return db
}
