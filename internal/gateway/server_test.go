package gateway

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/rolegate/internal/forward"
	"github.com/nao1215/rolegate/internal/route"
	"github.com/nao1215/rolegate/internal/session"
	"github.com/nao1215/rolegate/internal/token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testJWTSecret はテスト用のトークン署名秘密鍵。
const testJWTSecret = "test-secret-key"

// recordedRequest はモックバックエンドが受け取った最後のリクエスト。
type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
}

// newRecordingBackend は受信リクエストを記録するモックバックエンドを生成する。
// 応答は指定されたステータスとボディを返す。
func newRecordingBackend(t *testing.T, status int, body string) (*httptest.Server, *recordedRequest) {
	t.Helper()

	recorded := &recordedRequest{}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorded.Method = r.Method
		recorded.Path = r.URL.Path
		recorded.Query = r.URL.RawQuery
		recorded.Header = r.Header.Clone()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(backend.Close)

	return backend, recorded
}

// newTestServer はテスト用のゲートウェイサーバーを生成する。
// インメモリSQLiteとminiredisを使い、両バックエンドに指定URLを設定する。
func newTestServer(t *testing.T, adminURL, userURL string) (*Server, *miniredis.Miniredis) {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDB接続に失敗: %v", err)
	}
	// インメモリSQLiteは接続ごとに別のDBになるため1接続に固定する
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := initSchema(sqlDB); err != nil {
		t.Fatalf("スキーマ初期化に失敗: %v", err)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := zap.NewNop()
	cfg := Config{
		Port:                    "0",
		Env:                     "development",
		JWTSecret:               testJWTSecret,
		TokenLifetime:           time.Hour,
		AdminBackendURL:         adminURL,
		UserBackendURL:          userURL,
		SQLitePath:              ":memory:",
		SessionBreakerThreshold: 3,
		SessionBreakerCooldown:  time.Minute,
	}

	s := &Server{
		router: gin.New(),
		cfg:    cfg,
		logger: logger,
		users:  newUserStore(sqlDB),
		db:     sqlDB,
		sessions: session.NewBreakerStore(
			session.NewRedisStore(client), cfg.SessionBreakerThreshold, cfg.SessionBreakerCooldown, logger),
		table:     route.Table{AdminBaseURL: adminURL, UserBaseURL: userURL},
		forwarder: forward.New(logger),
	}
	s.setupRoutes()

	return s, mr
}

// envelope はテストで応答エンベロープを読むための形。
type envelope struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
	Detail  string         `json:"detail"`
}

// doRequest はテスト用サーバーにリクエストを送り、応答レコーダーを返す。
func doRequest(t *testing.T, s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// decodeEnvelope は応答ボディをエンベロープとして読み取る。
func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("応答エンベロープのデシリアライズに失敗: %v (body=%s)", err, w.Body.String())
	}
	return env
}

// signupUser はテスト用ユーザーを登録し、発行されたトークンを返す。
func signupUser(t *testing.T, s *Server, email, password, role, orgID string) string {
	t.Helper()

	body := `{"email":"` + email + `","password":"` + password + `","first_name":"太郎","last_name":"山田","role":"` + role + `","organization_id":"` + orgID + `"}`
	w := doRequest(t, s, http.MethodPost, "/auth/signup", body,
		map[string]string{"Content-Type": "application/json"})
	if w.Code != http.StatusCreated {
		t.Fatalf("signup: status = %d, want %d (body=%s)", w.Code, http.StatusCreated, w.Body.String())
	}

	env := decodeEnvelope(t, w)
	tok, ok := env.Data["token"].(string)
	if !ok || tok == "" {
		t.Fatal("signup応答にトークンが含まれない")
	}
	return tok
}

// TestAuthEndpoints は認証エンドポイントを検証する。
func TestAuthEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("サインアップ後にそのトークンで本人情報を取得できること", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestServer(t, "http://localhost:19001", "http://localhost:19002")
		tok := signupUser(t, s, "a@example.com", "pass-1234", "employee", "acme")

		w := doRequest(t, s, http.MethodGet, "/auth/me", "",
			map[string]string{"Authorization": "Bearer " + tok})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d (body=%s)", w.Code, http.StatusOK, w.Body.String())
		}

		env := decodeEnvelope(t, w)
		user, ok := env.Data["user"].(map[string]any)
		if !ok {
			t.Fatal("応答にユーザー情報が含まれない")
		}
		if user["role"] != "employee" {
			t.Errorf("role = %v, want %q", user["role"], "employee")
		}
		if user["organization_id"] != "acme" {
			t.Errorf("organization_id = %v, want %q", user["organization_id"], "acme")
		}
	})

	t.Run("同じメールアドレスで二度サインアップすると409になること", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestServer(t, "http://localhost:19001", "http://localhost:19002")
		signupUser(t, s, "dup@example.com", "pass-1234", "employee", "acme")

		body := `{"email":"dup@example.com","password":"other","first_name":"次郎","last_name":"鈴木","role":"employee","organization_id":"acme"}`
		w := doRequest(t, s, http.MethodPost, "/auth/signup", body,
			map[string]string{"Content-Type": "application/json"})
		if w.Code != http.StatusConflict {
			t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
		}
	})

	t.Run("必須項目が欠けたサインアップは400になること", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestServer(t, "http://localhost:19001", "http://localhost:19002")

		w := doRequest(t, s, http.MethodPost, "/auth/signup",
			`{"email":"x@example.com"}`, map[string]string{"Content-Type": "application/json"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("正しい資格情報でログインできること", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestServer(t, "http://localhost:19001", "http://localhost:19002")
		signupUser(t, s, "login@example.com", "pass-1234", "manager", "acme")

		w := doRequest(t, s, http.MethodPost, "/auth/login",
			`{"email":"login@example.com","password":"pass-1234"}`,
			map[string]string{"Content-Type": "application/json"})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d (body=%s)", w.Code, http.StatusOK, w.Body.String())
		}

		env := decodeEnvelope(t, w)
		if tok, ok := env.Data["token"].(string); !ok || tok == "" {
			t.Error("ログイン応答にトークンが含まれない")
		}
	})

	t.Run("誤ったパスワードのログインは401になること", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestServer(t, "http://localhost:19001", "http://localhost:19002")
		signupUser(t, s, "wrongpw@example.com", "pass-1234", "employee", "acme")

		w := doRequest(t, s, http.MethodPost, "/auth/login",
			`{"email":"wrongpw@example.com","password":"bad"}`,
			map[string]string{"Content-Type": "application/json"})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("未登録メールアドレスのログインは401になること", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestServer(t, "http://localhost:19001", "http://localhost:19002")

		w := doRequest(t, s, http.MethodPost, "/auth/login",
			`{"email":"nobody@example.com","password":"pass"}`,
			map[string]string{"Content-Type": "application/json"})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

// TestForwardingPipeline は認証から転送までのパイプライン全体を検証する。
func TestForwardingPipeline(t *testing.T) {
	t.Parallel()

	t.Run("employeeのリクエストが利用者バックエンドに転送されること", func(t *testing.T) {
		t.Parallel()

		backend, recorded := newRecordingBackend(t, http.StatusOK, `{"profile":"ok"}`)
		s, _ := newTestServer(t, "http://localhost:19001", backend.URL)
		tok := signupUser(t, s, "emp@example.com", "pass-1234", "employee", "acme")

		w := doRequest(t, s, http.MethodGet, "/user/profile?detail=1", "", map[string]string{
			"Authorization": "Bearer " + tok,
			// クライアントが本人情報ヘッダーを偽装しても転送されない
			"X-User-ID":         "spoofed-user",
			"X-Organization-ID": "spoofed-org",
		})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d (body=%s)", w.Code, http.StatusOK, w.Body.String())
		}
		if w.Body.String() != `{"profile":"ok"}` {
			t.Errorf("body = %q, バックエンドのボディがそのまま返されるべき", w.Body.String())
		}

		// パスから /user 接頭辞が取り除かれ、クエリは維持される
		if recorded.Path != "/profile" {
			t.Errorf("転送先パス = %q, want %q", recorded.Path, "/profile")
		}
		if recorded.Query != "detail=1" {
			t.Errorf("転送先クエリ = %q, want %q", recorded.Query, "detail=1")
		}

		// X-User-IDは常に認証済み本人情報から設定される
		if got := recorded.Header.Get("X-User-ID"); got == "spoofed-user" || got == "" {
			t.Errorf("X-User-ID = %q, 認証済みユーザーIDであるべき", got)
		}
		if got := recorded.Header.Get("X-Organization-ID"); got != "acme" {
			t.Errorf("X-Organization-ID = %q, want %q", got, "acme")
		}
		if got := recorded.Header.Get("X-Forwarded-By"); got != "rolegate" {
			t.Errorf("X-Forwarded-By = %q, want %q", got, "rolegate")
		}
		if got := recorded.Header.Get("Authorization"); got != "Bearer "+tok {
			t.Errorf("Authorization = %q, 元のトークンが転送されるべき", got)
		}
	})

	t.Run("ロール名の大文字小文字は区別されないこと", func(t *testing.T) {
		t.Parallel()

		backend, recorded := newRecordingBackend(t, http.StatusOK, `{}`)
		s, _ := newTestServer(t, backend.URL, "http://localhost:19002")
		tok := signupUser(t, s, "adm@example.com", "pass-1234", "Admin", "acme")

		w := doRequest(t, s, http.MethodGet, "/admin/widgets", "",
			map[string]string{"Authorization": "Bearer " + tok})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d (body=%s)", w.Code, http.StatusOK, w.Body.String())
		}
		if recorded.Path != "/widgets" {
			t.Errorf("転送先パス = %q, want %q", recorded.Path, "/widgets")
		}
	})

	t.Run("未対応ロールは403になること", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestServer(t, "http://localhost:19001", "http://localhost:19002")
		tok := signupUser(t, s, "guest@example.com", "pass-1234", "guest", "acme")

		w := doRequest(t, s, http.MethodGet, "/user/profile", "",
			map[string]string{"Authorization": "Bearer " + tok})
		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
		}

		// 非本番環境では診断詳細に対象ロールが含まれる
		env := decodeEnvelope(t, w)
		if !strings.Contains(env.Detail, "guest") {
			t.Errorf("detail = %q, ロール名が含まれるべき", env.Detail)
		}
	})

	t.Run("バックエンドの404はそのまま中継されること", func(t *testing.T) {
		t.Parallel()

		backend, _ := newRecordingBackend(t, http.StatusNotFound, `{"status":"error","message":"not found"}`)
		s, _ := newTestServer(t, "http://localhost:19001", backend.URL)
		tok := signupUser(t, s, "nf@example.com", "pass-1234", "employee", "acme")

		w := doRequest(t, s, http.MethodGet, "/user/widgets/404", "",
			map[string]string{"Authorization": "Bearer " + tok})
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
		}
		if w.Body.String() != `{"status":"error","message":"not found"}` {
			t.Errorf("body = %q, バックエンドのボディがそのまま返されるべき", w.Body.String())
		}
	})

	t.Run("バックエンドに到達できない場合は503になること", func(t *testing.T) {
		t.Parallel()

		backend, _ := newRecordingBackend(t, http.StatusOK, `{}`)
		url := backend.URL
		backend.Close()

		s, _ := newTestServer(t, "http://localhost:19001", url)
		tok := signupUser(t, s, "down@example.com", "pass-1234", "employee", "acme")

		w := doRequest(t, s, http.MethodGet, "/user/profile", "",
			map[string]string{"Authorization": "Bearer " + tok})
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
		}
	})
}

// TestAuthenticationRejections は認証段での拒否を検証する。
func TestAuthenticationRejections(t *testing.T) {
	t.Parallel()

	t.Run("Authorizationヘッダーなしは401になること", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestServer(t, "http://localhost:19001", "http://localhost:19002")

		w := doRequest(t, s, http.MethodGet, "/user/profile", "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("期限切れトークンはセッションの有無によらず401になること", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestServer(t, "http://localhost:19001", "http://localhost:19002")

		expired, err := token.Generate(testJWTSecret, "user-1", "employee", "acme", "x@example.com", -time.Hour)
		if err != nil {
			t.Fatalf("テスト用トークン生成に失敗: %v", err)
		}

		w := doRequest(t, s, http.MethodGet, "/user/profile", "",
			map[string]string{"Authorization": "Bearer " + expired})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("署名は有効だがセッションのないトークンは401になること", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestServer(t, "http://localhost:19001", "http://localhost:19002")

		orphan, err := token.Generate(testJWTSecret, "ghost", "employee", "acme", "g@example.com", time.Hour)
		if err != nil {
			t.Fatalf("テスト用トークン生成に失敗: %v", err)
		}

		w := doRequest(t, s, http.MethodGet, "/user/profile", "",
			map[string]string{"Authorization": "Bearer " + orphan})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("ログアウト後は同じトークンが401になること", func(t *testing.T) {
		t.Parallel()

		backend, _ := newRecordingBackend(t, http.StatusOK, `{}`)
		s, _ := newTestServer(t, "http://localhost:19001", backend.URL)
		tok := signupUser(t, s, "bye@example.com", "pass-1234", "employee", "acme")

		// ログアウト前は転送される
		w := doRequest(t, s, http.MethodGet, "/user/profile", "",
			map[string]string{"Authorization": "Bearer " + tok})
		if w.Code != http.StatusOK {
			t.Fatalf("ログアウト前: status = %d, want %d", w.Code, http.StatusOK)
		}

		w = doRequest(t, s, http.MethodGet, "/auth/logout", "",
			map[string]string{"Authorization": "Bearer " + tok})
		if w.Code != http.StatusOK {
			t.Fatalf("logout: status = %d, want %d", w.Code, http.StatusOK)
		}

		// セッション削除後はトークンの署名が有効でも拒否される
		w = doRequest(t, s, http.MethodGet, "/user/profile", "",
			map[string]string{"Authorization": "Bearer " + tok})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ログアウト後: status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

// TestStoreDegradation はセッションストア障害時の縮退を検証する。
func TestStoreDegradation(t *testing.T) {
	t.Parallel()

	t.Run("ストア到達不能でもトークンが有効ならリクエストは転送されること", func(t *testing.T) {
		t.Parallel()

		backend, recorded := newRecordingBackend(t, http.StatusOK, `{"ok":true}`)
		s, mr := newTestServer(t, "http://localhost:19001", backend.URL)
		tok := signupUser(t, s, "degraded@example.com", "pass-1234", "employee", "acme")

		// セッションストアを落とす
		mr.Close()

		w := doRequest(t, s, http.MethodGet, "/user/profile", "",
			map[string]string{"Authorization": "Bearer " + tok})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d (body=%s)", w.Code, http.StatusOK, w.Body.String())
		}
		if recorded.Path != "/profile" {
			t.Errorf("転送先パス = %q, want %q", recorded.Path, "/profile")
		}
	})
}

// TestHealthCheck はヘルスチェックエンドポイントを検証する。
func TestHealthCheck(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, "http://localhost:19001", "http://localhost:19002")

	w := doRequest(t, s, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	env := decodeEnvelope(t, w)
	if env.Status != "success" {
		t.Errorf("status = %q, want %q", env.Status, "success")
	}
}
