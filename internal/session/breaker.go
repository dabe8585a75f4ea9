package session

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerStore はStoreをサーキットブレーカーで包むデコレーター。
//
// ストア障害時の「トークン検証のみで続行する」縮退を時間的に区切る
// ための仕組み。連続失敗がしきい値に達するとブレーカーが開き、以後
// クールダウン経過までの参照は即座にErrStoreUnavailableを返す。死んだ
// ストアをリクエストごとに叩き続けないための境界であり、縮退方針
// そのもの（続行するか拒否するか）は呼び出し側が決める。
type BreakerStore struct {
	// inner は保護対象のストア。
	inner Store
	// cb はストア操作全体を保護するブレーカー。
	cb *gobreaker.CircuitBreaker
}

var _ Store = (*BreakerStore)(nil)

// NewBreakerStore はサーキットブレーカー付きストアを生成する。
// threshold回連続でストア障害が起きるとcooldownの間だけ開く。
// セッション不一致（ErrSessionNotFound）は正常な拒否であり、
// 失敗として数えない。
func NewBreakerStore(inner Store, threshold uint32, cooldown time.Duration, logger *zap.Logger) *BreakerStore {
	settings := gobreaker.Settings{
		Name:    "session-store",
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrSessionNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("セッションストアのブレーカー状態が変化",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &BreakerStore{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker(settings),
	}
}

// execute はブレーカー経由でストア操作を実行する。
// ブレーカーが開いている間はErrStoreUnavailableに写像する。
func (b *BreakerStore) execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrStoreUnavailable
	}
	return result, err
}

// Create はブレーカー経由でセッションを作成する。
func (b *BreakerStore) Create(ctx context.Context, s Session) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.Create(ctx, s)
	})
	return err
}

// FindLive はブレーカー経由で生存セッションを検索する。
func (b *BreakerStore) FindLive(ctx context.Context, token, userID string, now time.Time) (Session, error) {
	result, err := b.execute(func() (any, error) {
		return b.inner.FindLive(ctx, token, userID, now)
	})
	if err != nil {
		return Session{}, err
	}
	s, ok := result.(Session)
	if !ok {
		return Session{}, ErrStoreUnavailable
	}
	return s, nil
}

// Touch はブレーカー経由で最終活動時刻を更新する。
func (b *BreakerStore) Touch(ctx context.Context, token string, now time.Time) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.Touch(ctx, token, now)
	})
	return err
}

// DeleteByToken はブレーカー経由でセッションを削除する。
func (b *BreakerStore) DeleteByToken(ctx context.Context, token string) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.DeleteByToken(ctx, token)
	})
	return err
}
