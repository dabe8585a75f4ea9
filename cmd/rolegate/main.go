// 認証ルーティングゲートウェイのエントリポイント。
// ベアラートークン認証・セッション確認・ロールに基づくバックエンド
// 振り分けを担当する。外部からアクセス可能な唯一のサービスであり、
// セキュリティの境界線となる。
package main

import (
	"log"

	"go.uber.org/zap"

	"github.com/nao1215/rolegate/internal/gateway"
)

func main() {
	cfg := gateway.LoadConfig()

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	server, err := gateway.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("ゲートウェイサーバーの初期化に失敗", zap.Error(err))
	}

	logger.Info("ゲートウェイサービスを起動します",
		zap.String("port", cfg.Port),
		zap.String("environment", cfg.Env),
	)
	if err := server.Run(); err != nil {
		logger.Fatal("ゲートウェイサービスの起動に失敗", zap.Error(err))
	}
}

// newLogger は実行環境に応じたzapロガーを生成する。
func newLogger(cfg gateway.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
