package cache

import (
	"context"
	"strconv"
	"time"

	"collabClient/backend/internal/entity"

	redis "github.com/redis/go-redis/v9"
)

const DefaultPresenceTTL = 10 * time.Minute

type PresenceMember struct {
	UserID string       `json:"userId"`
	RevID  entity.RevID `json:"revId"`
}

// PresenceCache 记录同一文档的其他协作者，数据来自 NewDocUser 消息
type PresenceCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisPresence(rdb redis.UniversalClient, ttl time.Duration) *PresenceCache {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &PresenceCache{rdb: rdb, ttl: ttl}
}

// OnNewDocUser 刷新该用户的在线时间
func (p *PresenceCache) OnNewDocUser(ctx context.Context, user entity.NewDocUser) error {
	return p.AddMember(ctx, user.DocID, user.UserID, user.RevID)
}

func (p *PresenceCache) AddMember(ctx context.Context, docID, userID string, rev entity.RevID) error {
	tx := p.rdb.TxPipeline()
	// score 使用 expireAt（Unix 秒），表达逻辑 TTL
	expireAt := time.Now().Add(p.ttl).Unix()
	tx.ZAdd(ctx, roomKey(docID), redis.Z{Score: float64(expireAt), Member: userID})
	tx.HSet(ctx, revKey(docID), userID, uint64(rev))
	tx.Expire(ctx, roomKey(docID), p.ttl)
	tx.Expire(ctx, revKey(docID), p.ttl)
	_, err := tx.Exec(ctx)
	return err
}

var cleanupScript = redis.NewScript(`
-- KEYS[1] = roomKey(docID)
-- KEYS[2] = revKey(docID)
-- ARGV[1] = now (unix seconds)
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	redis.call("HDEL", KEYS[2], unpack(expired))
end
return #expired
`)

// AliveMembers 先清理过期成员，再返回在线成员
func (p *PresenceCache) AliveMembers(ctx context.Context, docID string) ([]PresenceMember, error) {
	now := time.Now().Unix()
	if err := cleanupScript.Run(ctx, p.rdb, []string{roomKey(docID), revKey(docID)}, now).Err(); err != nil && err != redis.Nil {
		return nil, err
	}

	ids, err := p.rdb.ZRangeByScore(ctx, roomKey(docID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10),
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	revs, err := p.rdb.HMGet(ctx, revKey(docID), ids...).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	members := make([]PresenceMember, 0, len(ids))
	for i, id := range ids {
		m := PresenceMember{UserID: id}
		if s, ok := revs[i].(string); ok {
			if v, err := strconv.ParseUint(s, 10, 64); err == nil {
				m.RevID = entity.RevID(v)
			}
		}
		members = append(members, m)
	}
	return members, nil
}
