// Package pdfsvc はPDFサービスのHTTPハンドラーと同期PDF操作を提供します。
package pdfsvc

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// OpResult は同期PDF操作の成果物です。
type OpResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Operations は同期PDF操作を提供します。ハンドラーはこのインターフェースに依存します。
type Operations interface {
	Merge(ctx context.Context, files []*multipart.FileHeader) (*OpResult, error)
	Split(ctx context.Context, file *multipart.FileHeader, rangesExpr string) (*OpResult, error)
	AddPageNumbers(ctx context.Context, file *multipart.FileHeader) (*OpResult, error)
}

// Service は pdfcpu による Operations 実装です。
type Service struct{}

// NewService は Service を作成します。
func NewService() *Service {
	return &Service{}
}

// Merge は複数PDFを1つに結合します。
func (s *Service) Merge(ctx context.Context, files []*multipart.FileHeader) (*OpResult, error) {
	if len(files) < 2 {
		return nil, newError("INVALID_INPUT", "結合には2つ以上のPDFファイルを指定してください。", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "easyconvert-merge-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	inputPaths := make([]string, 0, len(files))
	for i, fh := range files {
		path := filepath.Join(workDir, fmt.Sprintf("in-%02d.pdf", i+1))
		if err := saveMultipartFile(fh, path); err != nil {
			return nil, err
		}
		if _, err := pdfapi.PageCountFile(path); err != nil {
			return nil, newError("UNSUPPORTED_PDF", fmt.Sprintf("%s をPDFとして読み込めませんでした。", fh.Filename), err)
		}
		inputPaths = append(inputPaths, path)
	}

	outputPath := filepath.Join(workDir, "merged.pdf")
	if err := pdfapi.MergeCreateFile(inputPaths, outputPath, false, nil); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "PDFの結合に失敗しました。", err)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read merged pdf: %w", err)
	}
	return &OpResult{
		Filename:    "merged.pdf",
		ContentType: "application/pdf",
		Data:        data,
	}, nil
}

// Split は範囲指定でPDFを分割し、part毎のPDFをZIPにまとめて返します。
func (s *Service) Split(ctx context.Context, file *multipart.FileHeader, rangesExpr string) (*OpResult, error) {
	if file == nil {
		return nil, newError("INVALID_INPUT", "PDFファイルを選択してください。", nil)
	}
	rangesExpr = strings.TrimSpace(rangesExpr)
	if rangesExpr == "" {
		return nil, newError("INVALID_INPUT", "分割するページ範囲を指定してください。", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "easyconvert-split-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	inputPath := filepath.Join(workDir, "input.pdf")
	if err := saveMultipartFile(file, inputPath); err != nil {
		return nil, err
	}

	pageCount, err := pdfapi.PageCountFile(inputPath)
	if err != nil {
		return nil, newError("UNSUPPORTED_PDF", "PDFとして読み込めませんでした。", err)
	}

	ranges, err := parsePageRanges(rangesExpr, pageCount)
	if err != nil {
		return nil, err
	}

	partPaths := make([]string, 0, len(ranges))
	for i, pr := range ranges {
		partPath := filepath.Join(workDir, fmt.Sprintf("part-%02d.pdf", i+1))
		if err := pdfapi.CollectFile(inputPath, partPath, pr.selection(), nil); err != nil {
			return nil, newError("UNSUPPORTED_PDF", fmt.Sprintf("ページ範囲 %d の生成に失敗しました。", i+1), err)
		}
		partPaths = append(partPaths, partPath)
	}

	data, err := zipFiles(partPaths)
	if err != nil {
		return nil, err
	}
	return &OpResult{
		Filename:    "split.zip",
		ContentType: "application/zip",
		Data:        data,
	}, nil
}

// AddPageNumbers はフッター中央にページ番号スタンプを追加します。
func (s *Service) AddPageNumbers(ctx context.Context, file *multipart.FileHeader) (*OpResult, error) {
	if file == nil {
		return nil, newError("INVALID_INPUT", "PDFファイルを選択してください。", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "easyconvert-pagenum-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	inputPath := filepath.Join(workDir, "input.pdf")
	if err := saveMultipartFile(file, inputPath); err != nil {
		return nil, err
	}
	if _, err := pdfapi.PageCountFile(inputPath); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "PDFとして読み込めませんでした。", err)
	}

	outputPath := filepath.Join(workDir, "numbered.pdf")
	if err := stampPageNumbers(inputPath, outputPath); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "ページ番号の追加に失敗しました。", err)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read numbered pdf: %w", err)
	}
	return &OpResult{
		Filename:    "numbered.pdf",
		ContentType: "application/pdf",
		Data:        data,
	}, nil
}

func saveMultipartFile(fh *multipart.FileHeader, path string) error {
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to store upload %s: %w", fh.Filename, err)
	}
	return nil
}

// pageRange は1-basedの閉区間です。
type pageRange struct {
	start int
	end   int
}

func (pr pageRange) selection() []string {
	pages := make([]string, 0, pr.end-pr.start+1)
	for p := pr.start; p <= pr.end; p++ {
		pages = append(pages, strconv.Itoa(p))
	}
	return pages
}

// parsePageRanges は "1-3,4,5-" 形式の範囲式を解釈します。
func parsePageRanges(expr string, pageCount int) ([]pageRange, error) {
	segments := strings.Split(expr, ",")
	ranges := make([]pageRange, 0, len(segments))

	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			return nil, newError("INVALID_INPUT", "空の範囲指定が含まれています。", nil)
		}

		start, end, err := parseSingleRange(seg, pageCount)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, pageRange{start: start, end: end})
	}

	if len(ranges) == 0 {
		return nil, newError("INVALID_INPUT", "有効なページ範囲が指定されていません。", nil)
	}
	return ranges, nil
}

func parseSingleRange(seg string, pageCount int) (int, int, error) {
	if strings.Contains(seg, "-") {
		parts := strings.SplitN(seg, "-", 2)
		start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return 0, 0, newError("INVALID_INPUT", "範囲開始が整数ではありません。", nil)
		}
		end := pageCount
		if strings.TrimSpace(parts[1]) != "" {
			end, err = strconv.Atoi(strings.TrimSpace(parts[1]))
			if err != nil {
				return 0, 0, newError("INVALID_INPUT", "範囲終了が整数ではありません。", nil)
			}
		}
		if start < 1 || end < start || end > pageCount {
			return 0, 0, newError("INVALID_INPUT", "範囲指定がページ数の範囲外です。", nil)
		}
		return start, end, nil
	}

	page, err := strconv.Atoi(seg)
	if err != nil {
		return 0, 0, newError("INVALID_INPUT", "ページ番号が整数ではありません。", nil)
	}
	if page < 1 || page > pageCount {
		return 0, 0, newError("INVALID_INPUT", "ページ番号がページ数の範囲外です。", nil)
	}
	return page, page, nil
}
