// Package session 提供基于 Redis 的会话存储。
//
// 每个签发的 JWT 携带一个 jti，对应这里的一条会话记录，TTL 与 Token
// 有效期一致。登出或删除用户时主动删除记录，使 Token 在自然过期前失效；
// 过期清理完全依赖 Redis TTL，不需要后台扫描。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "taskboard:session:"
	userKeyPrefix = "taskboard:session:user:"
)

// Session 描述一条活跃会话。
type Session struct {
	ID        string    `json:"id"`
	UserID    uint      `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
}

// Store 管理会话的创建、校验与吊销。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore 创建会话存储。ttl 应与 Token 有效期保持一致。
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{
		rdb: rdb,
		ttl: ttl,
	}
}

// NewID 生成一个随机会话 ID，用作 JWT 的 jti。
func NewID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Create 记录一条新会话。
func (s *Store) Create(ctx context.Context, sessionID string, userID uint) error {
	if s == nil || s.rdb == nil {
		return fmt.Errorf("session store is not initialized")
	}
	if sessionID == "" {
		return fmt.Errorf("session id is empty")
	}
	now := time.Now()

	key := keyPrefix + sessionID
	if err := s.rdb.HSet(ctx, key,
		"user_id", strconv.FormatUint(uint64(userID), 10),
		"created_at", strconv.FormatInt(now.Unix(), 10),
		"last_seen", strconv.FormatInt(now.Unix(), 10),
	).Err(); err != nil {
		return fmt.Errorf("session hset: %w", err)
	}
	if err := s.rdb.Expire(ctx, key, s.ttl).Err(); err != nil {
		return fmt.Errorf("session expire: %w", err)
	}

	// 用户 -> 会话集合索引，供"登出全部设备"和会话列表使用。
	userKey := userKey(userID)
	if err := s.rdb.SAdd(ctx, userKey, sessionID).Err(); err != nil {
		return fmt.Errorf("session index sadd: %w", err)
	}
	if err := s.rdb.Expire(ctx, userKey, s.ttl).Err(); err != nil {
		return fmt.Errorf("session index expire: %w", err)
	}
	return nil
}

// Validate 判断会话是否仍然有效。
func (s *Store) Validate(ctx context.Context, sessionID string) (bool, error) {
	if s == nil || s.rdb == nil || sessionID == "" {
		return false, nil
	}
	n, err := s.rdb.Exists(ctx, keyPrefix+sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("session exists: %w", err)
	}
	return n > 0, nil
}

// Touch 更新会话的最后活跃时间。会话已失效时静默跳过。
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	if s == nil || s.rdb == nil || sessionID == "" {
		return nil
	}
	key := keyPrefix + sessionID
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil || n == 0 {
		return err
	}
	if err := s.rdb.HSet(ctx, key, "last_seen", strconv.FormatInt(time.Now().Unix(), 10)).Err(); err != nil {
		return fmt.Errorf("session touch: %w", err)
	}
	return nil
}

// Invalidate 吊销单个会话（登出）。
func (s *Store) Invalidate(ctx context.Context, sessionID string, userID uint) error {
	if s == nil || s.rdb == nil || sessionID == "" {
		return nil
	}
	if err := s.rdb.Del(ctx, keyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("session del: %w", err)
	}
	if err := s.rdb.SRem(ctx, userKey(userID), sessionID).Err(); err != nil {
		return fmt.Errorf("session index srem: %w", err)
	}
	return nil
}

// InvalidateUser 吊销某个用户的全部会话（删除账户时调用）。
//
// 返回值:
//
//	int: 实际吊销的会话数量
func (s *Store) InvalidateUser(ctx context.Context, userID uint) (int, error) {
	if s == nil || s.rdb == nil {
		return 0, nil
	}
	userKey := userKey(userID)
	ids, err := s.rdb.SMembers(ctx, userKey).Result()
	if err != nil {
		return 0, fmt.Errorf("session index smembers: %w", err)
	}

	count := 0
	for _, id := range ids {
		n, err := s.rdb.Del(ctx, keyPrefix+id).Result()
		if err != nil {
			return count, fmt.Errorf("session del: %w", err)
		}
		if n > 0 {
			count++
		}
	}
	if err := s.rdb.Del(ctx, userKey).Err(); err != nil {
		return count, fmt.Errorf("session index del: %w", err)
	}
	return count, nil
}

// List 返回某个用户当前的活跃会话。索引中已过期的成员会被顺手清理。
func (s *Store) List(ctx context.Context, userID uint) ([]Session, error) {
	if s == nil || s.rdb == nil {
		return nil, fmt.Errorf("session store is not initialized")
	}
	userKey := userKey(userID)
	ids, err := s.rdb.SMembers(ctx, userKey).Result()
	if err != nil {
		return nil, fmt.Errorf("session index smembers: %w", err)
	}

	sessions := make([]Session, 0, len(ids))
	for _, id := range ids {
		fields, err := s.rdb.HGetAll(ctx, keyPrefix+id).Result()
		if err != nil {
			return nil, fmt.Errorf("session hgetall: %w", err)
		}
		if len(fields) == 0 {
			// 会话已自然过期，从索引中移除
			_ = s.rdb.SRem(ctx, userKey, id).Err()
			continue
		}
		sessions = append(sessions, Session{
			ID:        id,
			UserID:    userID,
			CreatedAt: parseUnix(fields["created_at"]),
			LastSeen:  parseUnix(fields["last_seen"]),
		})
	}
	return sessions, nil
}

func userKey(userID uint) string {
	return userKeyPrefix + strconv.FormatUint(uint64(userID), 10)
}

func parseUnix(v string) time.Time {
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
