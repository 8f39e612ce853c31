package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yourusername/easyconvert/internal/store"
)

// processConversion はラスタライズジョブを最後まで実行します。
//
// 状態遷移は pending → processing → {completed, failed} の一方向です。
// ページごとに成果物を独立コミットで追記するため、途中経過は耐久的に残ります。
// 失敗は呼び出し元へ同期的に伝わらず、状態と運用ログにのみ現れます。
// 処理中のままワーカーが落ちたジョブは processing に留まります（タイムアウトによる
// failed への強制遷移は運用側の強化項目）。
func (m *Manager) processConversion(ctx context.Context, fileID string, dpi int) error {
	if dpi <= 0 {
		dpi = m.cfg.DefaultDPI
	}

	file, err := m.store.GetFile(ctx, fileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// 行が無ければ更新すべき状態も無い。報告して終了する。
			m.logf("job %s: file not found, nothing to do", fileID)
			return nil
		}
		return m.failConversion(ctx, fileID, fmt.Errorf("failed to load file: %w", err))
	}

	// キューからの重複配送への防御。pending 以外は別のワーカーが着手済み。
	if file.Status != store.StatusPending {
		m.logf("job %s: status is %s, skipping duplicate delivery", fileID, file.Status)
		return nil
	}

	// 成果物を作る前に processing を永続化し、ポーリング中のクライアントへ
	// 速やかに観測させる。
	if err := m.store.SetStatus(ctx, fileID, store.StatusProcessing); err != nil {
		return m.failConversion(ctx, fileID, fmt.Errorf("failed to mark processing: %w", err))
	}

	if err := m.rasterizeAllPages(ctx, fileID, file.Data, dpi); err != nil {
		return m.failConversion(ctx, fileID, err)
	}

	if err := m.store.SetStatus(ctx, fileID, store.StatusCompleted); err != nil {
		return m.failConversion(ctx, fileID, fmt.Errorf("failed to mark completed: %w", err))
	}

	m.logf("job %s: conversion completed", fileID)
	return nil
}

// rasterizeAllPages はPDFを一時領域へ書き出し、1ページずつレンダリングして
// page_number 昇順で成果物を追記します。
func (m *Manager) rasterizeAllPages(ctx context.Context, fileID string, pdfData []byte, dpi int) error {
	workDir, err := os.MkdirTemp("", "easyconvert-job-")
	if err != nil {
		return fmt.Errorf("failed to create job workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	inputPath := filepath.Join(workDir, "input.pdf")
	if err := os.WriteFile(inputPath, pdfData, 0o640); err != nil {
		return fmt.Errorf("failed to write input pdf: %w", err)
	}

	total, err := m.renderer.PageCount(ctx, inputPath)
	if err != nil {
		return err
	}
	if total < 1 {
		return fmt.Errorf("pdf has no pages")
	}

	for page := 1; page <= total; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		image, err := m.renderer.RenderPage(ctx, inputPath, page, dpi)
		if err != nil {
			return err
		}
		if err := m.store.AppendArtifact(ctx, fileID, image, page); err != nil {
			return err
		}
	}
	return nil
}

// failConversion はジョブを failed にし、詳細を運用ログへ残します。
// 行が既に消えている場合は状態更新をあきらめます。
func (m *Manager) failConversion(ctx context.Context, fileID string, cause error) error {
	m.logf("job %s: conversion failed: %v", fileID, cause)
	if err := m.store.SetStatus(ctx, fileID, store.StatusFailed); err != nil && !errors.Is(err, store.ErrNotFound) {
		m.logf("job %s: failed to mark failed: %v", fileID, err)
	}
	return cause
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
		return
	}
	// フォールバック。通常は main から *log.Logger が渡される。
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
