package pdfsvc

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// zipFiles は与えられたファイル群をZIPにまとめてメモリ上で返します。
func zipFiles(paths []string) ([]byte, error) {
	var buf bytes.Buffer
	zipWriter := zip.NewWriter(&buf)

	sort.Strings(paths)

	for _, path := range paths {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open zip input: %w", err)
		}

		info, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to stat zip input: %w", err)
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to build zip header: %w", err)
		}
		header.Name = filepath.Base(path)
		header.Method = zip.Deflate

		writer, err := zipWriter.CreateHeader(header)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write zip header: %w", err)
		}

		if _, err := io.Copy(writer, file); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write zip entry: %w", err)
		}
		file.Close()
	}

	if err := zipWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize zip: %w", err)
	}
	return buf.Bytes(), nil
}

// stampPageNumbers は全ページのフッター中央に "n of N" のスタンプを入れます。
func stampPageNumbers(inputPath, outputPath string) error {
	wm, err := pdfapi.TextWatermark(
		"%p of %P",
		"fontname:Helvetica, points:12, position:bc, offset:0 15, scalefactor:1 abs, rotation:0",
		true,  // onTop
		false, // update
		types.POINTS,
	)
	if err != nil {
		return fmt.Errorf("failed to build page number stamp: %w", err)
	}
	return pdfapi.AddWatermarksFile(inputPath, outputPath, nil, wm, nil)
}
