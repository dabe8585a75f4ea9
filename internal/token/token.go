// Package token はベアラートークンの発行と検証を提供する。
//
// トークンは単一のサーバー秘密鍵によるHS256署名付きJWTであり、
// ユーザーID・ロール・組織IDをクレームとして運ぶ。検証は署名と
// 有効期限のみを確認する純粋な処理で、セッションストアには一切
// 触れない（セッションとの突き合わせは session パッケージの責務）。
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedHeader はAuthorizationヘッダーが "Bearer <token>" 形式でないことを表す。
	ErrMalformedHeader = errors.New("token: Authorizationヘッダーの形式が不正")
	// ErrInvalidToken は署名不正・アルゴリズム不明・必須クレーム欠落を表す。
	ErrInvalidToken = errors.New("token: トークンが無効")
	// ErrExpiredToken はトークン自体の有効期限切れを表す。
	ErrExpiredToken = errors.New("token: トークンの有効期限切れ")
)

// issuer はこのゲートウェイが発行するトークンのiss値。
const issuer = "rolegate"

// Claims はトークンに埋め込む本人情報。
// ロールと組織IDは有効なトークンに必ず存在する。欠けているトークンは
// 署名が正しくても構造不正として扱う。
type Claims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// Role はバックエンド振り分けに使うロール名。
	Role string `json:"role"`
	// OrganizationID はユーザーの所属組織ID。
	OrganizationID string `json:"organization_id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
}

// Generate はユーザー情報を署名してトークン文字列を生成する。
// ログイン・サインアップ成功時にゲートウェイが呼び出す。
func Generate(secret, userID, role, organizationID, email string, lifetime time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
		UserID:         userID,
		Role:           role,
		OrganizationID: organizationID,
		Email:          email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("トークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// FromHeader はAuthorizationヘッダー値からトークン文字列を取り出す。
// "Bearer <token>" 形式以外はErrMalformedHeaderを返す。
func FromHeader(header string) (string, error) {
	if header == "" {
		return "", ErrMalformedHeader
	}
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found || raw == "" {
		return "", ErrMalformedHeader
	}
	return raw, nil
}

// Verify はトークン文字列の署名と有効期限を検証し、クレームを返す。
// セッションストアを参照しない高速経路であり、期限切れトークンは
// ストアの状態にかかわらずここで拒否される。副作用は持たない。
func Verify(secret, raw string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	// ロールまたは組織IDを欠くトークンは署名が正しくても構造不正。
	if claims.Role == "" || claims.OrganizationID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyHeader はAuthorizationヘッダー値の取り出しと検証をまとめて行う。
// 成功時はクレームと生トークン文字列を返す。生トークンはセッション
// ストアの照合キーとして下流で使用する。
func VerifyHeader(secret, header string) (*Claims, string, error) {
	raw, err := FromHeader(header)
	if err != nil {
		return nil, "", err
	}
	claims, err := Verify(secret, raw)
	if err != nil {
		return nil, "", err
	}
	return claims, raw, nil
}
