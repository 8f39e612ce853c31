// Package main は画像サービスのエントリーポイントです。
// フォーマット変換・編集・切り抜き・PDF化を同期的に提供します。
package main

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/easyconvert/internal/config"
	"github.com/yourusername/easyconvert/internal/imagesvc"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()
	router.MaxMultipartMemory = cfg.MaxFileSize

	// ルーティングの設定
	setupRoutes(router)

	// サーバーの起動
	addr := ":" + cfg.ImageServicePort
	log.Printf("Starting image service on %s (mode: %s)", addr, cfg.GinMode)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "easyconvert-image-service",
		"version": "0.1.0",
	})
}

// setupRoutes は画像加工エンドポイントを配線します。
func setupRoutes(router *gin.Engine) {
	router.GET("/health", handleHealth)

	router.POST("/change-format", imagesvc.ChangeFormatHandler())
	router.POST("/edit-image", imagesvc.EditImageHandler())
	router.POST("/crop-image", imagesvc.CropImageHandler())
	router.POST("/images-to-pdf", imagesvc.ImagesToPDFHandler())
}
