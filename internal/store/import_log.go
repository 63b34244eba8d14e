package store

import (
	"context"
	"fmt"

	"github.com/Ganzhe0906/ty-productselect/internal/model"
)

// CreateImportLog 创建导入日志，返回 import_log_id
func (s *Store) CreateImportLog(ctx context.Context, filename string, fileSize int64, fileHash string) (int64, error) {
	var id int64
	err := s.db.QueryRowxContext(ctx, s.q(`
		INSERT INTO import_logs (filename, file_size, file_hash, status)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`), filename, fileSize, fileHash, model.ImportProcessing).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create import log: %w", err)
	}
	return id, nil
}

// ImportResult 导入结束时写回的统计
type ImportResult struct {
	LibraryID    string
	Status       string
	ProductCount int
	ImageCount   int
	FailedImages int
	ErrorMessage string
}

// FinishImportLog 完成导入日志更新
func (s *Store) FinishImportLog(ctx context.Context, id int64, r ImportResult) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		UPDATE import_logs SET
			library_id = ?,
			status = ?,
			product_count = ?,
			image_count = ?,
			failed_images = ?,
			error_message = ?,
			completed_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`), r.LibraryID, r.Status, r.ProductCount, r.ImageCount, r.FailedImages, r.ErrorMessage, id)
	if err != nil {
		return fmt.Errorf("failed to update import log: %w", err)
	}
	return nil
}

// ListImportLogs 最近的导入记录
func (s *Store) ListImportLogs(ctx context.Context, limit int) ([]model.ImportLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []model.ImportLog
	err := s.db.SelectContext(ctx, &logs, s.q(`
		SELECT id, library_id, filename, file_size, file_hash, status,
			product_count, image_count, failed_images, error_message, created_at
		FROM import_logs
		ORDER BY id DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list import logs: %w", err)
	}
	return logs, nil
}
