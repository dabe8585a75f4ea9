// Package gateway は認証ルーティングゲートウェイの内部実装を提供する。
//
// ベアラートークンの検証、セッションレコードとの突き合わせ、ロールに
// 基づくバックエンド振り分け、ヘッダーを無害化した転送、バックエンド
// 障害のクライアント向け変換を担当する。外部からアクセス可能な唯一の
// サービスであり、セキュリティの境界線として機能する。
//
// パイプラインは 未認証 → 認証済み → 振り分け済み → 転送済み の
// 直線的な流れで、どの段でも最初の失敗が終端となる。再試行は行わない。
package gateway
