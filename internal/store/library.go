package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Ganzhe0906/ty-productselect/internal/apperr"
	"github.com/Ganzhe0906/ty-productselect/internal/model"
)

const libraryColumns = `id, name, type, timestamp, excel_url, products, original_library_id, created_by`

type libraryRow struct {
	ID                string         `db:"id"`
	Name              string         `db:"name"`
	Type              string         `db:"type"`
	Timestamp         int64          `db:"timestamp"`
	ExcelURL          string         `db:"excel_url"`
	Products          []byte         `db:"products"`
	OriginalLibraryID sql.NullString `db:"original_library_id"`
	CreatedBy         sql.NullString `db:"created_by"`
}

func (r *libraryRow) toModel() (*model.Library, error) {
	lib := &model.Library{
		ID:                strings.ToLower(r.ID),
		Name:              r.Name,
		Type:              model.LibraryType(r.Type),
		Timestamp:         r.Timestamp,
		ExcelURL:          r.ExcelURL,
		OriginalLibraryID: strings.ToLower(r.OriginalLibraryID.String),
		CreatedBy:         r.CreatedBy.String,
		Products:          []*model.Product{},
	}
	if len(r.Products) > 0 {
		if err := json.Unmarshal(r.Products, &lib.Products); err != nil {
			return nil, fmt.Errorf("failed to decode products of %s: %w", r.ID, err)
		}
	}
	return lib, nil
}

// encodeProducts 序列化商品列表，展示用的 _image_url 不落库
func encodeProducts(products []*model.Product) (string, error) {
	clean := make([]*model.Product, 0, len(products))
	for _, p := range products {
		if p == nil {
			continue
		}
		if p.ImageURL != "" {
			p = p.Clone()
			p.ImageURL = ""
		}
		clean = append(clean, p)
	}
	data, err := json.Marshal(clean)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

// SaveLibrary 新建或覆盖选品库
func (s *Store) SaveLibrary(ctx context.Context, lib *model.Library) error {
	products, err := encodeProducts(lib.Products)
	if err != nil {
		return fmt.Errorf("failed to encode products: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO libraries (`+libraryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			timestamp = excluded.timestamp,
			excel_url = excluded.excel_url,
			products = excluded.products,
			original_library_id = excluded.original_library_id,
			created_by = excluded.created_by
	`),
		strings.ToLower(lib.ID),
		lib.Name,
		string(lib.Type),
		lib.Timestamp,
		lib.ExcelURL,
		products,
		nullString(strings.ToLower(lib.OriginalLibraryID)),
		nullString(lib.CreatedBy),
	)
	if err != nil {
		return fmt.Errorf("failed to save library: %w", err)
	}
	return nil
}

// GetLibrary 按 ID 查询
func (s *Store) GetLibrary(ctx context.Context, id string) (*model.Library, error) {
	var row libraryRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+libraryColumns+` FROM libraries WHERE id = ?`), strings.ToLower(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("选品库不存在: %s", id)
		}
		return nil, fmt.Errorf("failed to get library: %w", err)
	}
	return row.toModel()
}

// ListLibraries 按类型列出，最新在前
func (s *Store) ListLibraries(ctx context.Context, typ model.LibraryType) ([]*model.Library, error) {
	var rows []libraryRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT `+libraryColumns+` FROM libraries
		WHERE type = ?
		ORDER BY timestamp DESC
	`), string(typ))
	if err != nil {
		return nil, fmt.Errorf("failed to list libraries: %w", err)
	}
	return toModels(rows)
}

// ListChildren 列出由母库派生的 completed 记录，最新在前
func (s *Store) ListChildren(ctx context.Context, parentID string) ([]*model.Library, error) {
	var rows []libraryRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT `+libraryColumns+` FROM libraries
		WHERE type = ? AND original_library_id = ?
		ORDER BY timestamp DESC
	`), string(model.LibraryCompleted), strings.ToLower(parentID))
	if err != nil {
		return nil, fmt.Errorf("failed to list child libraries: %w", err)
	}
	return toModels(rows)
}

func toModels(rows []libraryRow) ([]*model.Library, error) {
	out := make([]*model.Library, 0, len(rows))
	for i := range rows {
		lib, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, lib)
	}
	return out, nil
}

// DeleteLibrary 删除单条记录
func (s *Store) DeleteLibrary(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM libraries WHERE id = ?`), strings.ToLower(id))
	if err != nil {
		return fmt.Errorf("failed to delete library: %w", err)
	}
	return expectAffected(res, id)
}

// RenameLibrary 重命名
func (s *Store) RenameLibrary(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE libraries SET name = ? WHERE id = ?`), name, strings.ToLower(id))
	if err != nil {
		return fmt.Errorf("failed to rename library: %w", err)
	}
	return expectAffected(res, id)
}

func expectAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("选品库不存在: %s", id)
	}
	return nil
}

// CountLibraries 各类型数量
func (s *Store) CountLibraries(ctx context.Context) (map[model.LibraryType]int, error) {
	var rows []struct {
		Type  string `db:"type"`
		Count int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT type, COUNT(*) AS count FROM libraries GROUP BY type`); err != nil {
		return nil, fmt.Errorf("failed to count libraries: %w", err)
	}
	out := map[model.LibraryType]int{
		model.LibraryPending:   0,
		model.LibraryCompleted: 0,
	}
	for _, r := range rows {
		out[model.LibraryType(r.Type)] = r.Count
	}
	return out, nil
}
