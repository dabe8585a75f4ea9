package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/nao1215/rolegate/internal/session"
	"github.com/nao1215/rolegate/internal/token"
	"github.com/nao1215/rolegate/pkg/middleware"
	"github.com/nao1215/rolegate/pkg/respond"
)

// signupRequest はサインアップのリクエストボディ。
type signupRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Role           string `json:"role"`
	OrganizationID string `json:"organization_id"`
	Department     string `json:"department"`
	Location       string `json:"location"`
}

// loginRequest はログインのリクエストボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// userPayload はエンベロープに載せるユーザー情報。
type userPayload struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	FirstName      string `json:"first_name,omitempty"`
	LastName       string `json:"last_name,omitempty"`
	Role           string `json:"role"`
	OrganizationID string `json:"organization_id"`
}

// handleSignup は新規ユーザーを登録し、トークンとセッションを発行する
// ハンドラを返す。
func (s *Server) handleSignup() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req signupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, respond.Error("リクエストボディの形式が不正です"))
			return
		}
		if req.Email == "" || req.Password == "" || req.FirstName == "" ||
			req.LastName == "" || req.Role == "" || req.OrganizationID == "" {
			c.JSON(http.StatusBadRequest, respond.Error(
				"必須項目（email, password, first_name, last_name, role, organization_id）をすべて指定してください"))
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, respond.Error("ユーザーの作成に失敗しました"))
			return
		}

		user := User{
			UserID:         generateUserID(req.OrganizationID),
			OrganizationID: req.OrganizationID,
			FirstName:      req.FirstName,
			LastName:       req.LastName,
			Email:          req.Email,
			PasswordHash:   string(hash),
			Role:           req.Role,
			Department:     req.Department,
			Location:       req.Location,
			DateOfJoining:  time.Now(),
		}
		if err := s.users.CreateUser(c.Request.Context(), user); err != nil {
			if errors.Is(err, ErrEmailTaken) {
				c.JSON(http.StatusConflict, respond.Error("このメールアドレスは既に登録されています"))
				return
			}
			s.logger.Error("ユーザー作成に失敗", zap.Error(err))
			c.JSON(http.StatusInternalServerError, respond.Error("ユーザーの作成に失敗しました"))
			return
		}

		signed, err := s.issueSession(c, user)
		if err != nil {
			s.logger.Error("セッション発行に失敗", zap.String("user_id", user.UserID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, respond.Error("セッションの作成に失敗しました"))
			return
		}

		c.JSON(http.StatusCreated, respond.Success("ユーザーを作成しました", gin.H{
			"user":  toUserPayload(user),
			"token": signed,
		}))
	}
}

// handleLogin は資格情報を検証し、トークンとセッションを発行する
// ハンドラを返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
			c.JSON(http.StatusBadRequest, respond.Error("メールアドレスとパスワードを指定してください"))
			return
		}

		// 未登録メールとパスワード不一致は同じ応答にそろえる。
		user, err := s.users.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			c.JSON(http.StatusUnauthorized, respond.Error("メールアドレスまたはパスワードが正しくありません"))
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			c.JSON(http.StatusUnauthorized, respond.Error("メールアドレスまたはパスワードが正しくありません"))
			return
		}

		signed, err := s.issueSession(c, user)
		if err != nil {
			s.logger.Error("セッション発行に失敗", zap.String("user_id", user.UserID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, respond.Error("セッションの作成に失敗しました"))
			return
		}

		c.JSON(http.StatusOK, respond.Success("ログインしました", gin.H{
			"user":  toUserPayload(user),
			"token": signed,
		}))
	}
}

// handleLogout はベアラートークンに対応するセッションを削除する
// ハンドラを返す。以後そのトークンは署名が有効でも認証を通らない。
func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw, err := token.FromHeader(c.GetHeader("Authorization")); err == nil {
			if derr := s.sessions.DeleteByToken(c.Request.Context(), raw); derr != nil {
				s.logger.Warn("ログアウト時のセッション削除に失敗", zap.Error(derr))
			}
		}

		c.SetCookie("token", "", -1, "/", "", s.cfg.IsProduction(), true)
		c.JSON(http.StatusOK, respond.Success("ログアウトしました", nil))
	}
}

// handleMe は認証済みユーザーの本人情報を返すハンドラを返す。
func (s *Server) handleMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.GetIdentity(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, respond.Error("認証が必要です。ログインしてください。"))
			return
		}

		c.JSON(http.StatusOK, respond.Success("ユーザー情報を取得しました", gin.H{
			"user": gin.H{
				"id":              id.UserID,
				"role":            id.Role,
				"organization_id": id.OrganizationID,
			},
		}))
	}
}

// handleVerifyToken はトークンとセッションの有効性を確認するハンドラを
// 返す。認証ミドルウェアを通過した時点で検証済みのため、本人情報を
// 返すだけでよい（最終活動時刻もミドルウェアが更新済み）。
func (s *Server) handleVerifyToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.GetIdentity(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, respond.Error("認証が必要です。ログインしてください。"))
			return
		}

		c.JSON(http.StatusOK, respond.Success("トークンは有効です", gin.H{
			"user": gin.H{
				"id":              id.UserID,
				"role":            id.Role,
				"organization_id": id.OrganizationID,
			},
		}))
	}
}

// issueSession はユーザーに対してトークンを署名し、対になるセッションを
// 作成する。トークンはクッキーにも設定する。
func (s *Server) issueSession(c *gin.Context, user User) (string, error) {
	signed, err := token.Generate(
		s.cfg.JWTSecret, user.UserID, user.Role, user.OrganizationID, user.Email,
		s.cfg.TokenLifetime,
	)
	if err != nil {
		return "", err
	}

	now := time.Now()
	err = s.sessions.Create(c.Request.Context(), session.Session{
		SessionID:      uuid.NewString(),
		UserID:         user.UserID,
		OrganizationID: user.OrganizationID,
		Token:          signed,
		ExpiresAt:      now.Add(s.cfg.TokenLifetime),
		CreatedAt:      now,
		LastActivity:   now,
	})
	if err != nil {
		return "", err
	}

	maxAge := int(s.cfg.TokenLifetime.Seconds())
	c.SetCookie("token", signed, maxAge, "/", "", s.cfg.IsProduction(), true)
	return signed, nil
}

// toUserPayload はユーザーレコードを応答用の形に変換する。
func toUserPayload(u User) userPayload {
	return userPayload{
		ID:             u.UserID,
		Email:          u.Email,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		Role:           u.Role,
		OrganizationID: u.OrganizationID,
	}
}

// generateUserID は組織IDの先頭3文字とタイムスタンプからユーザーIDを
// 生成する（例: "ACM_1736899200000"）。
func generateUserID(organizationID string) string {
	prefix := strings.ToUpper(organizationID)
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixMilli())
}
