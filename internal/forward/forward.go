// Package forward は認証・振り分け済みリクエストのバックエンド転送を提供する。
//
// 転送は常に1回限りで、リトライもトランスポート既定を超えるタイム
// アウトも持たない。バックエンドが返した応答はステータスコードに
// かかわらず（4xx/5xxも含めて）成功として呼び出し元へそのまま中継
// する。転送側のエラーとなるのはトランスポート障害と、送信前の
// リクエスト組み立て失敗のみ。
package forward

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/nao1215/rolegate/internal/identity"
)

var (
	// ErrUpstreamUnavailable は応答を受け取れないトランスポート障害
	// （接続拒否・名前解決失敗・タイムアウト）を表す。境界では503になる。
	ErrUpstreamUnavailable = errors.New("forward: バックエンドに到達できない")
	// ErrUpstreamSetup は送信前のリクエスト組み立て失敗を表す。
	// 境界では500になる。
	ErrUpstreamSetup = errors.New("forward: 転送リクエストの組み立てに失敗")
)

// forwardedBy はゲートウェイを通過したことを示すヘッダー値。
const forwardedBy = "rolegate"

// Response はバックエンドからの応答。クライアントへそのまま中継される。
type Response struct {
	// StatusCode はバックエンドが返したHTTPステータスコード。
	StatusCode int
	// ContentType は応答のContent-Type。空の場合はapplication/json。
	ContentType string
	// Body は応答ボディ。
	Body []byte
}

// Forwarder はバックエンドへのHTTP転送を行う。
type Forwarder struct {
	// httpClient は転送に使うHTTPクライアント。タイムアウトは
	// トランスポート既定に委ねる。
	httpClient *http.Client
	// logger は転送失敗の記録用ロガー。
	logger *zap.Logger
}

// New は新しいForwarderを生成する。
func New(logger *zap.Logger) *Forwarder {
	return &Forwarder{
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Do はメソッドとボディを保ったままリクエストをバックエンドへ転送する。
//
// 送出ヘッダーは受信リクエストのヘッダー群をコピーせず、許可リスト
// だけをゼロから組み立てる。X-User-IDとX-Organization-IDは常に
// 認証済みのIdentityから設定され、クライアントが同名ヘッダーを
// 送っていても決して転送されない（なりすまし封じ込めの境界）。
func (f *Forwarder) Do(ctx context.Context, method, url string, body io.Reader, id identity.Identity, contentType, clientIP string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamSetup, err)
	}

	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+id.Token)
	req.Header.Set("X-Forwarded-By", forwardedBy)
	req.Header.Set("X-Forwarded-For", clientIP)
	req.Header.Set("X-Organization-ID", id.OrganizationID)
	req.Header.Set("X-User-ID", id.UserID)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Error("バックエンドへの転送に失敗",
			zap.String("url", url),
			zap.String("method", method),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: 応答ボディの読み取りに失敗: %v", ErrUpstreamUnavailable, err)
	}

	respContentType := resp.Header.Get("Content-Type")
	if respContentType == "" {
		respContentType = "application/json"
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: respContentType,
		Body:        respBody,
	}, nil
}
