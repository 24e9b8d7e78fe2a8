package cache

import "fmt"

// 键语义：
// - roomKey(docID):  文档的在线协作者（ZSet<userId, expireAtUnix>，score=expireAt）
// - revKey(docID):   协作者加入时看到的版本（Hash<userId -> revId>）
const (
	keyRoomFmt = "collab:presence:room:{docID:%s}"
	keyRevFmt  = "collab:presence:rev:{docID:%s}"
)

func roomKey(docID string) string { return fmt.Sprintf(keyRoomFmt, docID) }
func revKey(docID string) string  { return fmt.Sprintf(keyRevFmt, docID) }
