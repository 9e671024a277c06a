package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/meetsprint/internal/model"
)

const (
	redisSessionPrefix     = "meetsprint:session:"
	redisUserSessionPrefix = "meetsprint:user_sessions:"
)

// RedisSessionRepo はRedisを使用したセッションリポジトリ。
// セッションはTTL付きのキーとして保存されるため、クリーンアップジョブは不要。
// ユーザー単位の一括削除のために、ユーザーごとのセッションID集合も保持する。
type RedisSessionRepo struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisSessionRepo はRedisSessionRepoを生成する。
func NewRedisSessionRepo(client redis.UniversalClient) *RedisSessionRepo {
	return &RedisSessionRepo{client: client, now: time.Now}
}

type redisSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func sessionKey(id string) string         { return redisSessionPrefix + id }
func userSessionsKey(userID string) string { return redisUserSessionPrefix + userID }

// Create はセッションを作成する。
func (r *RedisSessionRepo) Create(ctx context.Context, session *model.Session) error {
	ttl := session.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("session already expired: %s", session.ID)
	}

	body, err := json.Marshal(redisSession{
		ID:        session.ID,
		UserID:    session.UserID,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(session.ID), body, ttl)
		pipe.SAdd(ctx, userSessionsKey(session.UserID), session.ID)
		pipe.Expire(ctx, userSessionsKey(session.UserID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *RedisSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	stored, err := r.get(ctx, id)
	if err != nil || stored == nil {
		return nil, err
	}
	if !r.now().Before(stored.ExpiresAt) {
		return nil, nil
	}

	return &model.Session{
		ID:        stored.ID,
		UserID:    stored.UserID,
		ExpiresAt: stored.ExpiresAt,
		CreatedAt: stored.CreatedAt,
	}, nil
}

// UpdateExpiry はセッションの有効期限を延長し、キーのTTLも合わせて更新する。
// 存在しないセッションに対しては何もしない。
func (r *RedisSessionRepo) UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	stored, err := r.get(ctx, id)
	if err != nil || stored == nil {
		return err
	}

	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	stored.ExpiresAt = expiresAt

	body, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(id), body, ttl)
		pipe.Expire(ctx, userSessionsKey(stored.UserID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update session expiry: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *RedisSessionRepo) DeleteByID(ctx context.Context, id string) error {
	stored, err := r.get(ctx, id)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(id))
		if stored != nil {
			pipe.SRem(ctx, userSessionsKey(stored.UserID), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *RedisSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	ids, err := r.client.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to list user sessions: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKey(id))
	}
	keys = append(keys, userSessionsKey(userID))

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

func (r *RedisSessionRepo) get(ctx context.Context, id string) (*redisSession, error) {
	body, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	var stored redisSession
	if err := json.Unmarshal(body, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &stored, nil
}

// compile-time interface check
var _ SessionRepository = (*RedisSessionRepo)(nil)
