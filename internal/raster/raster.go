// Package raster はPDFページを画像へラスタライズする変換器を提供します。
package raster

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// PageRenderer はPDFのページ数取得と1ページ単位のレンダリングを提供します。
// ワーカーはこのインターフェースにのみ依存します。
type PageRenderer interface {
	PageCount(ctx context.Context, inputPath string) (int, error)
	RenderPage(ctx context.Context, inputPath string, page, dpi int) ([]byte, error)
}

// Ghostscript は gs コマンドによる PageRenderer 実装です。
type Ghostscript struct {
	// Path は gs 実行ファイルのパスです（例: "gs"）。
	Path string
}

// NewGhostscript は Ghostscript レンダラーを作成します。
func NewGhostscript(path string) *Ghostscript {
	if path == "" {
		path = "gs"
	}
	return &Ghostscript{Path: path}
}

// PageCount はPDFの総ページ数を返します。
func (g *Ghostscript) PageCount(ctx context.Context, inputPath string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	count, err := pdfapi.PageCountFile(inputPath)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return count, nil
}

// RenderPage は指定ページをPNGとしてレンダリングし、バイト列で返します。
func (g *Ghostscript) RenderPage(ctx context.Context, inputPath string, page, dpi int) ([]byte, error) {
	if page < 1 {
		return nil, fmt.Errorf("page must be 1-based (got %d)", page)
	}

	outDir, err := os.MkdirTemp("", "easyconvert-raster-")
	if err != nil {
		return nil, fmt.Errorf("failed to create render dir: %w", err)
	}
	defer os.RemoveAll(outDir)
	outputPath := filepath.Join(outDir, fmt.Sprintf("page_%d.png", page))

	args := []string{
		"-sDEVICE=png16m",
		fmt.Sprintf("-r%d", dpi),
		fmt.Sprintf("-dFirstPage=%d", page),
		fmt.Sprintf("-dLastPage=%d", page),
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		fmt.Sprintf("-sOutputFile=%s", outputPath),
		inputPath,
	}

	cmd := exec.CommandContext(ctx, g.Path, args...)
	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ghostscript failed for page %d: %s: %w", page, stderr.String(), err)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered page %d: %w", page, err)
	}
	return data, nil
}
