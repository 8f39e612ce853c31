// Package archive はジョブの成果物を1つのZIPコンテナへまとめます。
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"

	"github.com/yourusername/easyconvert/internal/store"
)

// ErrNoArtifacts は completed なジョブに成果物が1件も無いことを表します。
// 未完了（not ready）とは区別されるデータ整合性エラーです。
var ErrNoArtifacts = errors.New("archive: no artifacts for job")

// BuildZip は成果物を page_<n>.png のエントリ名でZIPに詰め、完成したバイト列を返します。
// メモリ上で完全に組み立ててから返すため、呼び出し側は配信完了後に安全に
// 元データを削除できます。
func BuildZip(artifacts []store.Artifact) ([]byte, error) {
	if len(artifacts) == 0 {
		return nil, ErrNoArtifacts
	}

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	for _, a := range artifacts {
		entry, err := w.Create(fmt.Sprintf("page_%d.png", a.PageNumber))
		if err != nil {
			return nil, fmt.Errorf("failed to create zip entry for page %d: %w", a.PageNumber, err)
		}
		if _, err := entry.Write(a.Data); err != nil {
			return nil, fmt.Errorf("failed to write zip entry for page %d: %w", a.PageNumber, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize zip: %w", err)
	}
	return buf.Bytes(), nil
}
