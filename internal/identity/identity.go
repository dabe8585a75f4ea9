// Package identity は認証済みリクエストの本人情報を提供する。
package identity

// Identity は認証成功時にリクエスト単位で一度だけ導出される不変値。
// トークンのクレームとセッション確認の結果から組み立てられ、下流の
// 振り分け・転送段に渡される。永続化されず、リクエスト終了とともに
// 破棄される。
type Identity struct {
	// UserID は認証済みユーザーの一意識別子。
	UserID string
	// Role はバックエンド振り分けに使うロール名。
	Role string
	// OrganizationID はユーザーの所属組織ID。
	OrganizationID string
	// Token は署名済みトークン文字列。バックエンドへの転送に使う。
	Token string
}
