// Package session はログインセッションの永続化と生存確認を提供する。
//
// トークンが暗号学的に有効でも、対応するセッションレコードが生きて
// いなければ認証は成立しない。ログアウトや強制失効を即座に有効化
// するため、ゲートウェイはセッションをリクエストをまたいでキャッシュ
// せず、ストアを失効の唯一の情報源として扱う。
//
// 既知のリスク: ストア自体に到達できない場合、ゲートウェイは可用性を
// 優先してトークン検証のみで認証を継続する（呼び出し側の方針）。この
// 縮退中は失効済みセッションのトークンが受理され続ける。縮退は
// サーキットブレーカーで時間的に区切られ、必ずWARNログに残る。
package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSessionNotFound は一致する生存セッションが存在しないことを表す。
	// ストア障害とは区別され、呼び出し側はこれを認証失敗として扱う。
	ErrSessionNotFound = errors.New("session: セッションが見つからない")
	// ErrStoreUnavailable はセッションストア自体に到達できないことを表す。
	ErrStoreUnavailable = errors.New("session: セッションストアが利用不可")
)

// Session はログイン1回分のサーバー側レコード。
// トークン自体の有効期限とは独立に失効させられる。
type Session struct {
	// SessionID はセッションの一意識別子。
	SessionID string `json:"session_id"`
	// UserID はセッション所有者のユーザーID。
	UserID string `json:"user_id"`
	// OrganizationID はセッション所有者の所属組織ID。
	OrganizationID string `json:"organization_id"`
	// Token は署名済みトークン文字列そのもの。照合キーを兼ねる。
	Token string `json:"token"`
	// ExpiresAt はセッションの失効時刻。
	ExpiresAt time.Time `json:"expires_at"`
	// CreatedAt はセッションの作成時刻。
	CreatedAt time.Time `json:"created_at"`
	// LastActivity は最後に認証を通過した時刻。助言的なメタデータで
	// あり、更新失敗はリクエストの成否に影響しない。
	LastActivity time.Time `json:"last_activity"`
}

// Store はセッションストアへの操作。多数のリクエストから並行に
// 呼び出される。実装側で排他を完結させること。
type Store interface {
	// Create はセッションを新規作成する。ログイン・サインアップ時に
	// トークン発行と対で呼び出される。
	Create(ctx context.Context, s Session) error
	// FindLive はトークンとユーザーIDが一致し、かつ失効時刻がnowより
	// 厳密に後のセッションを返す。一致しない場合はErrSessionNotFound、
	// ストア到達不能の場合はErrStoreUnavailableを返す。
	FindLive(ctx context.Context, token, userID string, now time.Time) (Session, error)
	// Touch は最終活動時刻をnowに更新する。ベストエフォートであり、
	// 失敗してもリクエストは認証済みのまま続行してよい。
	Touch(ctx context.Context, token string, now time.Time) error
	// DeleteByToken はトークンに対応するセッションを削除する。
	// ログアウト時に呼び出される。対象が無くてもエラーにしない。
	DeleteByToken(ctx context.Context, token string) error
}
