package store

// Status はファイル変換ジョブの状態を表します。
// 遷移は pending → processing → {completed, failed} の一方向のみです。
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal は状態が終端（completed または failed）かどうかを返します。
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// File はアップロードされた入力ファイル1件を表します（file_storeテーブルの1行）。
type File struct {
	ID          string
	Data        []byte
	ContentType string
	Status      Status
}

// Artifact は変換で生成された出力1件（例: PDFの1ページ分のPNG）を表します。
// PageNumber は1始まりで、完了したジョブでは欠番なく 1..N が揃います。
type Artifact struct {
	ID           string
	ParentFileID string
	Data         []byte
	PageNumber   int
}
