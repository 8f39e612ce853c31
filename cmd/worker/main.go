// Package main はラスタライズワーカーのエントリーポイントです。
// Redisキューからジョブを取り出し、GhostscriptでPDFをページ単位の
// PNGへ変換して FileStore に保存します。
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourusername/easyconvert/internal/config"
	"github.com/yourusername/easyconvert/internal/jobs"
	"github.com/yourusername/easyconvert/internal/raster"
	"github.com/yourusername/easyconvert/internal/store"
)

const (
	redisPingRetries  = 5
	redisPingInterval = 5 * time.Second
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags)

	// キュー接続の事前確認（Redisが起動するまで待つ）
	if err := waitForRedis(cfg.QueueRedisURL); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}

	// FileStoreへの接続（起動時にスキーマを保証する）
	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	st := store.NewStore(db)
	if err := st.InitSchema(context.Background()); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	renderer := raster.NewGhostscript(cfg.GhostscriptPath)

	manager, err := jobs.NewManager(cfg, st, renderer, logger)
	if err != nil {
		log.Fatalf("Failed to create job manager: %v", err)
	}

	log.Printf("Starting worker (concurrency: %d)", cfg.WorkerConcurrency)
	if err := manager.Run(); err != nil {
		log.Fatalf("Worker stopped with error: %v", err)
	}
}

// waitForRedis はキュー接続先のRedisへの疎通を確認します。
// コンテナ起動順の揺らぎを吸収するため、一定回数リトライします。
func waitForRedis(redisURL string) error {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return err
	}

	client := redis.NewClient(opts)
	defer client.Close()

	var lastErr error
	for attempt := 1; attempt <= redisPingRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		lastErr = client.Ping(ctx).Err()
		cancel()
		if lastErr == nil {
			return nil
		}
		log.Printf("Redis not ready (attempt %d/%d): %v", attempt, redisPingRetries, lastErr)
		time.Sleep(redisPingInterval)
	}
	return lastErr
}
