package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix はセッションレコードのRedisキー接頭辞。
const keyPrefix = "rolegate:session:"

// RedisStore はRedisを使ったStore実装。
// レコードをJSONで保持し、TTLをセッション失効時刻に合わせることで
// 失効済みレコードは能動的に削除しなくても自然に消える。
type RedisStore struct {
	// client はRedisクライアント。
	client *redis.Client
}

// インターフェース実装の静的検査。
var _ Store = (*RedisStore)(nil)

// NewRedisStore は新しいRedisセッションストアを生成する。
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// sessionKey はトークンからRedisキーを組み立てる。
func sessionKey(token string) string {
	return keyPrefix + token
}

// Create はセッションをJSONとして保存する。TTLは失効時刻までの残り時間。
func (r *RedisStore) Create(ctx context.Context, s Session) error {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("失効済みセッションは作成できない: expires_at=%s", s.ExpiresAt)
	}

	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("セッションのシリアライズに失敗: %w", err)
	}

	if err := r.client.Set(ctx, sessionKey(s.Token), payload, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// FindLive はトークンをキーにセッションを取得し、ユーザーIDの一致と
// 失効時刻を検査する。TTLが未発火でも失効時刻は厳密に確認する。
func (r *RedisStore) FindLive(ctx context.Context, token, userID string, now time.Time) (Session, error) {
	payload, err := r.client.Get(ctx, sessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var s Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return Session{}, fmt.Errorf("%w: セッションのデシリアライズに失敗: %v", ErrStoreUnavailable, err)
	}

	if s.UserID != userID || !s.ExpiresAt.After(now) {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

// Touch は最終活動時刻を更新する。TTLは維持する。
func (r *RedisStore) Touch(ctx context.Context, token string, now time.Time) error {
	payload, err := r.client.Get(ctx, sessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var s Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return fmt.Errorf("%w: セッションのデシリアライズに失敗: %v", ErrStoreUnavailable, err)
	}

	s.LastActivity = now
	payload, err = json.Marshal(s)
	if err != nil {
		return fmt.Errorf("セッションのシリアライズに失敗: %w", err)
	}

	if err := r.client.Set(ctx, sessionKey(token), payload, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteByToken はトークンに対応するセッションを削除する。
// 対象が存在しなくてもエラーにしない。
func (r *RedisStore) DeleteByToken(ctx context.Context, token string) error {
	if err := r.client.Del(ctx, sessionKey(token)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
