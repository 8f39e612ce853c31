// Package store はアップロードファイルと変換成果物を保持する FileStore を提供します。
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// ErrNotFound は指定IDのレコードが存在しないことを表します。
var ErrNotFound = errors.New("store: record not found")

// Store は file_store / processed_images テーブルへのアクセスを提供します。
// プロセス全体で共有するハンドルとして明示的に生成し、各ハンドラーへ渡します。
type Store struct {
	db *sql.DB
}

// NewStore は既存のデータベース接続から Store を作成します。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open はPostgreSQLへ接続し、疎通確認をリトライ付きで行います。
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	const retries = 5
	for i := 1; i <= retries; i++ {
		if err = db.Ping(); err == nil {
			return db, nil
		}
		log.Printf("database connection failed, retrying... (%d/%d): %v", i, retries, err)
		time.Sleep(5 * time.Second)
	}
	db.Close()
	return nil, fmt.Errorf("could not connect to database: %w", err)
}

// InitSchema はテーブルが存在しない場合に作成します。
func (s *Store) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS file_store (
			id VARCHAR(36) PRIMARY KEY,
			file_data BYTEA,
			file_type VARCHAR(50),
			status VARCHAR(20)
		)`,
		`CREATE TABLE IF NOT EXISTS processed_images (
			id VARCHAR(36) PRIMARY KEY,
			parent_file_id VARCHAR(36) REFERENCES file_store(id),
			image_data BYTEA,
			page_number INTEGER
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// CreateFile は入力ファイルを status=pending で保存します。
func (s *Store) CreateFile(ctx context.Context, id string, data []byte, contentType string) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_store (id, file_data, file_type, status) VALUES ($1, $2, $3, $4)`,
		id, data, contentType, string(StatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to insert file: %w", err)
	}
	return nil
}

// GetFile はファイル本体を含むレコードを取得します。
func (s *Store) GetFile(ctx context.Context, id string) (*File, error) {
	var f File
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, file_data, file_type, status FROM file_store WHERE id = $1`,
		id,
	).Scan(&f.ID, &f.Data, &f.ContentType, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load file: %w", err)
	}
	f.Status = Status(status)
	return &f, nil
}

// GetStatus は状態のみを取得します。ポーリング用にファイル本体は読み込みません。
func (s *Store) GetStatus(ctx context.Context, id string) (Status, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM file_store WHERE id = $1`,
		id,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to load status: %w", err)
	}
	return Status(status), nil
}

// SetStatus は状態を更新します。存在しないIDの場合は ErrNotFound を返します。
func (s *Store) SetStatus(ctx context.Context, id string, status Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE file_store SET status = $1 WHERE id = $2`,
		string(status), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to confirm status update: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendArtifact は成果物1件を独立したコミットで追記します。
// ジョブ途中でワーカーが落ちても、追記済みのページは失われません。
func (s *Store) AppendArtifact(ctx context.Context, parentFileID string, data []byte, pageNumber int) error {
	if parentFileID == "" {
		return fmt.Errorf("parentFileID is required")
	}
	if pageNumber < 1 {
		return fmt.Errorf("pageNumber must be 1-based (got %d)", pageNumber)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_images (id, parent_file_id, image_data, page_number) VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), parentFileID, data, pageNumber,
	)
	if err != nil {
		return fmt.Errorf("failed to insert artifact: %w", err)
	}
	return nil
}

// ListArtifacts はジョブの成果物を page_number 昇順で返します。
func (s *Store) ListArtifacts(ctx context.Context, parentFileID string) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, parent_file_id, image_data, page_number
		 FROM processed_images
		 WHERE parent_file_id = $1
		 ORDER BY page_number`,
		parentFileID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ID, &a.ParentFileID, &a.Data, &a.PageNumber); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read artifacts: %w", err)
	}
	return artifacts, nil
}

// DeleteJob はジョブの成果物とレコード本体を1トランザクションで削除します。
// 冪等であり、存在しないIDを渡してもエラーにはなりません。
// 失敗ジョブの部分成果物もここでまとめて消えます（失敗時の即時削除は行わない方針）。
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM processed_images WHERE parent_file_id = $1`, id,
	); err != nil {
		return fmt.Errorf("failed to delete artifacts: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM file_store WHERE id = $1`, id,
	); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return tx.Commit()
}
