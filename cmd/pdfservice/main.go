// Package main はPDFサービスのエントリーポイントです。
// 同期的なPDF加工（結合・分割・ページ番号付与）と、
// 非同期ラスタライズジョブの受付・照会・成果物配信を提供します。
package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/easyconvert/internal/config"
	"github.com/yourusername/easyconvert/internal/jobs"
	"github.com/yourusername/easyconvert/internal/pdfsvc"
	"github.com/yourusername/easyconvert/internal/raster"
	"github.com/yourusername/easyconvert/internal/store"
)

// jobScheduler は jobs.Manager をハンドラー向けに薄く包みます。
type jobScheduler struct {
	manager *jobs.Manager
}

func (s *jobScheduler) Schedule(ctx context.Context, fileID string, dpi int) error {
	return s.manager.Enqueue(ctx, &jobs.TaskPayload{FileID: fileID, DPI: dpi})
}

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[pdf-service] ", log.LstdFlags)

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

	// ジョブマネージャー（このプロセスでは投入専用）
	manager, err := jobs.NewManager(cfg, st, raster.NewGhostscript(cfg.GhostscriptPath), logger)
	if err != nil {
		log.Fatalf("Failed to create job manager: %v", err)
	}
	defer manager.Shutdown(context.Background())

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()
	router.MaxMultipartMemory = cfg.MaxFileSize

	// ルーティングの設定
	setupRoutes(router, cfg, st, &jobScheduler{manager: manager}, logger)

	// サーバーの起動
	addr := ":" + cfg.PDFServicePort
	log.Printf("Starting pdf service on %s (mode: %s)", addr, cfg.GinMode)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "easyconvert-pdf-service",
		"version": "0.1.0",
	})
}

// setupRoutes はPDF加工と非同期変換のエンドポイントを配線します。
func setupRoutes(router *gin.Engine, cfg *config.Config, st *store.Store, scheduler pdfsvc.Scheduler, logger *log.Logger) {
	router.GET("/health", handleHealth)

	ops := pdfsvc.NewService()
	router.POST("/merge", pdfsvc.MergeHandler(ops))
	router.POST("/split", pdfsvc.SplitHandler(ops))
	router.POST("/add-page-numbers", pdfsvc.PageNumbersHandler(ops))

	router.POST("/convert-pdf-async", pdfsvc.ConvertAsyncHandler(st, scheduler, cfg.DefaultDPI))
	router.GET("/status/:task_id", pdfsvc.StatusHandler(st))
	router.GET("/download-images/:task_id", pdfsvc.DownloadHandler(st, logger))
}
