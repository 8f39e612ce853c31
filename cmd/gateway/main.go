// Package main はゲートウェイサーバーのエントリーポイントです。
// アップロードの受付と、PDF・画像サービスへのリクエスト転送を行います。
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/easyconvert/internal/config"
	"github.com/yourusername/easyconvert/internal/gateway"
	"github.com/yourusername/easyconvert/internal/store"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[gateway] ", log.LstdFlags)

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

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()
	router.MaxMultipartMemory = cfg.MaxFileSize

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	if len(origins) == 1 && origins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	// フロントエンドがダウンロード時のファイル名を読み取れるように公開
	corsConfig.ExposeHeaders = []string{"Content-Disposition"}
	router.Use(cors.New(corsConfig))

	// ルーティングの設定
	setupRoutes(router, cfg, st, logger)

	// サーバーの起動
	addr := ":" + cfg.GatewayPort
	log.Printf("Starting gateway server on %s (mode: %s)", addr, cfg.GinMode)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "easyconvert-gateway",
		"version": "0.1.0",
	})
}

// setupRoutes はアップロード受付とバックエンド転送の配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, st *store.Store, logger *log.Logger) {
	router.GET("/health", handleHealth)

	router.POST("/upload", gateway.UploadHandler(st))

	proxy := gateway.NewProxy(map[string]string{
		"pdf":   cfg.PDFServiceURL,
		"image": cfg.ImageServiceURL,
	}, logger)
	router.Any("/pdf/*path", proxy.Handler("pdf"))
	router.Any("/image/*path", proxy.Handler("image"))
}
