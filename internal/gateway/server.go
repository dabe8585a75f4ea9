package gateway

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/rolegate/internal/forward"
	"github.com/nao1215/rolegate/internal/route"
	"github.com/nao1215/rolegate/internal/session"
	"github.com/nao1215/rolegate/pkg/middleware"
	"github.com/nao1215/rolegate/pkg/respond"
)

// Server はゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg は起動時に構築された読み取り専用の設定。
	cfg Config
	// logger は構造化ロガー。
	logger *zap.Logger
	// users は資格情報ストア（SQLite）。
	users *userStore
	// db はSQLiteデータベース接続。
	db *sql.DB
	// sessions はセッションストア（Redis + サーキットブレーカー）。
	sessions session.Store
	// table はロールから振り分け先への写像。
	table route.Table
	// forwarder はバックエンドへの転送器。
	forwarder *forward.Forwarder
}

// NewServer は新しいゲートウェイサーバーを生成する。
func NewServer(cfg Config, logger *zap.Logger) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", cfg.SQLitePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	sessions := session.NewBreakerStore(
		session.NewRedisStore(redisClient),
		cfg.SessionBreakerThreshold,
		cfg.SessionBreakerCooldown,
		logger,
	)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:    gin.New(),
		cfg:       cfg,
		logger:    logger,
		users:     newUserStore(sqlDB),
		db:        sqlDB,
		sessions:  sessions,
		table:     route.Table{AdminBaseURL: cfg.AdminBackendURL, UserBaseURL: cfg.UserBackendURL},
		forwarder: forward.New(logger),
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.cfg.Port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestLogger(s.logger))
	s.router.Use(middleware.SecureHeaders())
	s.router.Use(middleware.CORS(s.cfg.AllowedOrigins))

	authMW := middleware.Auth(middleware.AuthConfig{
		Secret:   s.cfg.JWTSecret,
		Sessions: s.sessions,
		Logger:   s.logger,
	})

	// 認証エンドポイント（signup/login/logoutは認証不要）
	auth := s.router.Group("/auth")
	{
		auth.POST("/signup", s.handleSignup())
		auth.POST("/login", s.handleLogin())
		auth.GET("/logout", s.handleLogout())
		auth.GET("/me", authMW, s.handleMe())
		auth.GET("/verify-token", authMW, s.handleVerifyToken())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, respond.Success("ゲートウェイは稼働中", gin.H{
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
			"environment": s.cfg.Env,
		}))
	})

	// 上記以外のすべてのパスは認証の上でロールに応じたバックエンドへ
	// 転送される。
	s.router.NoRoute(authMW, s.handleForward())
}

// handleForward は認証済みリクエストをロールに応じたバックエンドへ
// 転送するハンドラを返す。パイプラインの 振り分け → 転送 段。
func (s *Server) handleForward() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.GetIdentity(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, respond.Error("認証が必要です。ログインしてください。"))
			return
		}

		target, err := s.table.Resolve(id.Role)
		if err != nil {
			s.logger.Warn("未対応ロールのため転送を拒否",
				zap.String("role", id.Role),
				zap.String("user_id", id.UserID),
				zap.String("path", c.Request.URL.Path),
			)
			c.JSON(http.StatusForbidden, s.errorEnvelope("この操作を行う権限がありません", err))
			return
		}

		url := target.BaseURL + target.RewritePath(c.Request.URL.Path)
		if q := c.Request.URL.RawQuery; q != "" {
			url += "?" + q
		}

		resp, err := s.forwarder.Do(
			c.Request.Context(), c.Request.Method, url, c.Request.Body,
			id, c.GetHeader("Content-Type"), c.ClientIP(),
		)
		if err != nil {
			if errors.Is(err, forward.ErrUpstreamUnavailable) {
				c.JSON(http.StatusServiceUnavailable,
					s.errorEnvelope("バックエンドサービスが利用できません", err))
				return
			}
			c.JSON(http.StatusInternalServerError,
				s.errorEnvelope("ゲートウェイ内部でエラーが発生しました", err))
			return
		}

		// バックエンドの応答はステータス・ボディともそのまま中継する。
		c.Data(resp.StatusCode, resp.ContentType, resp.Body)
	}
}

// errorEnvelope はエラーエンベロープを生成する。
// 診断詳細は非本番環境でのみ付与し、本番では抑制する。
func (s *Server) errorEnvelope(message string, err error) respond.Envelope {
	if s.cfg.IsProduction() {
		return respond.Error(message)
	}
	return respond.ErrorWithDetail(message, err.Error())
}
