package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/rolegate/internal/identity"
	"github.com/nao1215/rolegate/internal/session"
	"github.com/nao1215/rolegate/internal/token"
	"github.com/nao1215/rolegate/pkg/respond"
)

// contextKeyIdentity はGinコンテキストに本人情報を格納するキー。
const contextKeyIdentity = "identity"

// AuthConfig は認証ミドルウェアの依存関係。
type AuthConfig struct {
	// Secret はトークン署名の検証に使うサーバー秘密鍵。
	Secret string
	// Sessions はセッションの生存確認に使うストア。
	Sessions session.Store
	// Logger は縮退やTouch失敗の記録用ロガー。
	Logger *zap.Logger
}

// Auth はトークン検証とセッション生存確認を行うGinミドルウェアを返す。
//
// 認証パイプラインの第一段。トークンの署名・有効期限を検査し（ストア
// 参照前の高速経路）、次にセッションストアで生存を確認する。両方を
// 通過した場合のみ本人情報をコンテキストに設定して下流へ進む。
//
// セッションストアに到達できない場合はリクエストを失敗させず、
// トークン検証の結果だけで認証済みとして続行する。可用性を優先した
// 意図的な縮退であり、必ずWARNログに残る（失効済みセッションの
// トークンがストア復旧まで受理され続けるリスクを伴う）。
func Auth(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, raw, err := token.VerifyHeader(cfg.Secret, c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, respond.Error(authFailureMessage(err)))
			return
		}

		now := time.Now()
		s, err := cfg.Sessions.FindLive(c.Request.Context(), raw, claims.UserID, now)
		switch {
		case err == nil:
			// 組織の一致もセッション側で独立に確認する。
			if s.OrganizationID != claims.OrganizationID {
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					respond.Error("セッションが無効か期限切れです。再度ログインしてください。"))
				return
			}
			// 最終活動時刻の更新はベストエフォート。失敗しても
			// リクエストは認証済みのまま続行する。
			if terr := cfg.Sessions.Touch(c.Request.Context(), raw, now); terr != nil {
				cfg.Logger.Warn("セッションの最終活動時刻の更新に失敗",
					zap.String("user_id", claims.UserID),
					zap.Error(terr),
				)
			}
		case errors.Is(err, session.ErrSessionNotFound):
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				respond.Error("セッションが無効か期限切れです。再度ログインしてください。"))
			return
		default:
			// ストア障害。トークン検証のみで認証済みとして続行する。
			cfg.Logger.Warn("セッションストアに到達できないためトークン検証のみで続行",
				zap.String("user_id", claims.UserID),
				zap.Error(err),
			)
		}

		c.Set(contextKeyIdentity, identity.Identity{
			UserID:         claims.UserID,
			Role:           claims.Role,
			OrganizationID: claims.OrganizationID,
			Token:          raw,
		})
		c.Next()
	}
}

// authFailureMessage は認証失敗種別ごとの利用者向けメッセージを返す。
// どの検査で失敗したかを詳細に漏らさない範囲の文言に留める。
func authFailureMessage(err error) string {
	switch {
	case errors.Is(err, token.ErrMalformedHeader):
		return "認証が必要です。ログインしてください。"
	case errors.Is(err, token.ErrExpiredToken):
		return "トークンの有効期限が切れています。再度ログインしてください。"
	default:
		return "トークンが無効です。再度ログインしてください。"
	}
}

// GetIdentity はGinコンテキストから認証済み本人情報を取得する。
// Authミドルウェアが事前に適用されている必要がある。
func GetIdentity(c *gin.Context) (identity.Identity, bool) {
	v, ok := c.Get(contextKeyIdentity)
	if !ok {
		return identity.Identity{}, false
	}
	id, ok := v.(identity.Identity)
	return id, ok
}
