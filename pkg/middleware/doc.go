// Package middleware はゲートウェイ共通のGinミドルウェアを提供する。
//
// 認証パイプラインの入口（Auth）、CORS、セキュリティヘッダー、
// パニック回復、リクエストログを含む。いずれも依存関係を引数で
// 受け取り、環境変数などの外部状態を直接読まない。
package middleware
