// Package jobs は非同期変換ジョブの投入とワーカー実行を提供します。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/yourusername/easyconvert/internal/config"
	"github.com/yourusername/easyconvert/internal/raster"
	"github.com/yourusername/easyconvert/internal/store"
)

const (
	taskTypeRasterize = "pdf:rasterize"
	queueName         = "pdf"
)

// TaskPayload はラスタライズジョブのペイロードです。
type TaskPayload struct {
	FileID string `json:"fileId"`
	DPI    int    `json:"dpi"`
}

// Manager はジョブの投入と実行を担います。
// 投入側（PDFサービス）とワーカー側で同じ Manager を構築し、
// 投入側は Enqueue のみ、ワーカー側は Run のみを使用します。
type Manager struct {
	cfg      *config.Config
	client   *asynq.Client
	server   *asynq.Server
	mux      *asynq.ServeMux
	store    *store.Store
	renderer raster.PageRenderer
	logger   *log.Logger
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, st *store.Store, renderer raster.PageRenderer, logger *log.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if st == nil {
		return nil, errors.New("store is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queueName: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		cfg:      cfg,
		client:   client,
		server:   server,
		mux:      mux,
		store:    st,
		renderer: renderer,
		logger:   logger,
	}
	mux.HandleFunc(taskTypeRasterize, manager.handleRasterizeTask)
	return manager, nil
}

// Enqueue はジョブをキューに投入します。fire-and-forget であり、
// 変換の完了を待ちません。リトライは行いません（at-most-once）。
func (m *Manager) Enqueue(ctx context.Context, payload *TaskPayload) error {
	if payload == nil {
		return fmt.Errorf("payload is nil")
	}
	if payload.FileID == "" {
		return fmt.Errorf("payload.FileID is required")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(taskTypeRasterize, body, asynq.Queue(queueName))
	if _, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(0)); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// Run は Asynq サーバーを起動し、ブロックします。ワーカープロセスから呼び出します。
func (m *Manager) Run() error {
	if err := m.server.Run(m.mux); err != nil && err != asynq.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	m.client.Close()
	return nil
}

func (m *Manager) handleRasterizeTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}
	if payload.FileID == "" {
		return fmt.Errorf("missing fileId in payload")
	}
	return m.processConversion(ctx, payload.FileID, payload.DPI)
}
