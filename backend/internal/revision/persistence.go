package revision

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"collabClient/backend/internal/entity"
	"collabClient/backend/internal/ot/delta"
)

// Persistence 版本日志的存储能力，多个文档共享同一个实例
type Persistence interface {
	// AppendRevision 追加一个版本，重复的 rev_id 返回 ErrDuplicateRevision
	AppendRevision(ctx context.Context, rev entity.Revision) error
	// ReadRevisions 按 rev_id 升序返回；rng 为 nil 时返回整条链
	ReadRevisions(ctx context.Context, docID string, rng *entity.RevisionRange) ([]entity.Revision, error)
}

// DocRevision 某个版本号下的完整文档
type DocRevision struct {
	RevID entity.RevID
	Delta delta.Delta
}

// Server 远端权威文档，本地没有版本日志时从这里拉取
type Server interface {
	FetchDocument(ctx context.Context, docID string) (DocRevision, error)
}

// MemoryPersistence 进程内的版本日志，没有配置 MySQL 时使用
type MemoryPersistence struct {
	mu   sync.RWMutex
	revs map[string][]entity.Revision
}

func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{revs: make(map[string][]entity.Revision)}
}

func (m *MemoryPersistence) AppendRevision(_ context.Context, rev entity.Revision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain := m.revs[rev.DocID]
	if n := len(chain); n > 0 {
		last := chain[n-1]
		if rev.RevID <= last.RevID {
			return fmt.Errorf("%w: %s rev %d", entity.ErrDuplicateRevision, rev.DocID, rev.RevID)
		}
		if rev.BaseRevID != last.RevID {
			return fmt.Errorf("%w: %s base %d after %d", entity.ErrChainBroken, rev.DocID, rev.BaseRevID, last.RevID)
		}
	}
	m.revs[rev.DocID] = append(chain, rev)
	return nil
}

func (m *MemoryPersistence) ReadRevisions(_ context.Context, docID string, rng *entity.RevisionRange) ([]entity.Revision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chain := m.revs[docID]
	if rng == nil {
		return append([]entity.Revision(nil), chain...), nil
	}
	lo := sort.Search(len(chain), func(i int) bool { return chain[i].RevID >= rng.Start })
	hi := sort.Search(len(chain), func(i int) bool { return chain[i].RevID > rng.End })
	return append([]entity.Revision(nil), chain[lo:hi]...), nil
}
