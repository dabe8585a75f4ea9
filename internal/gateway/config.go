package gateway

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// envProduction は本番環境を表すAPP_ENV値。
const envProduction = "production"

// Config はゲートウェイの全設定。プロセス起動時に環境変数から一度だけ
// 構築され、以後読み取り専用で各コンポーネントに注入される。
// どのコンポーネントも環境変数を直接読まない。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// Env は実行環境（"production" または "development"）。
	// 本番ではエラー応答の診断詳細を抑制する。
	Env string
	// JWTSecret はトークン署名用の秘密鍵。
	JWTSecret string
	// TokenLifetime はトークンとセッションの有効期間。
	TokenLifetime time.Duration
	// AdminBackendURL は管理バックエンドのベースURL。
	AdminBackendURL string
	// UserBackendURL は利用者バックエンドのベースURL。
	UserBackendURL string
	// AllowedOrigins はCORSで許可するオリジン一覧。
	AllowedOrigins []string
	// SQLitePath は資格情報ストア（SQLite）のパス。
	SQLitePath string
	// RedisAddr はセッションストア（Redis）のアドレス。
	RedisAddr string
	// RedisPassword はRedisのパスワード。空なら認証なし。
	RedisPassword string
	// SessionBreakerThreshold はセッションストアのブレーカーを開く
	// 連続失敗回数。
	SessionBreakerThreshold uint32
	// SessionBreakerCooldown はブレーカーが開いてから再試行するまでの時間。
	SessionBreakerCooldown time.Duration
}

// LoadConfig は環境変数からConfigを構築する。
func LoadConfig() Config {
	return Config{
		Port:                    getEnvOr("PORT", "8080"),
		Env:                     getEnvOr("APP_ENV", "development"),
		JWTSecret:               getEnvOr("JWT_SECRET", "dev-secret-key"),
		TokenLifetime:           readDuration("TOKEN_LIFETIME", 24*time.Hour),
		AdminBackendURL:         getEnvOr("ADMIN_BACKEND_URL", "http://localhost:9001"),
		UserBackendURL:          getEnvOr("USER_BACKEND_URL", "http://localhost:9002"),
		AllowedOrigins:          splitOrigins(getEnvOr("ALLOWED_ORIGINS", "http://localhost:3000")),
		SQLitePath:              getEnvOr("SQLITE_PATH", "/data/rolegate.db"),
		RedisAddr:               getEnvOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		SessionBreakerThreshold: uint32(readInt("SESSION_BREAKER_THRESHOLD", 5)),
		SessionBreakerCooldown:  readDuration("SESSION_BREAKER_COOLDOWN", 30*time.Second),
	}
}

// IsProduction は本番環境かどうかを返す。
func (c Config) IsProduction() bool {
	return c.Env == envProduction
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// readInt は整数の環境変数を読む。不正値はデフォルト値に落とす。
func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

// readDuration は期間の環境変数を読む。不正値はデフォルト値に落とす。
func readDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

// splitOrigins はカンマ区切りのオリジン一覧を分割する。
func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
