package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ganzhe0906/ty-productselect/internal/apperr"
	"github.com/Ganzhe0906/ty-productselect/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(DriverSQLite, filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func product(index int, title string) *model.Product {
	p := model.NewProduct(index)
	p.Set("商品标题", model.String(title))
	p.Set("价格", model.Number(float64(index)))
	return p
}

func TestSaveAndGetLibrary(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	withDisplay := product(3, "b")
	withDisplay.ImageURL = "data:image/png;base64,AA=="

	lib := &model.Library{
		ID:        "6F1C1A2E-0000-4000-8000-000000000001",
		Name:      "母库",
		Type:      model.LibraryPending,
		Timestamp: 1000,
		ExcelURL:  "https://pub.example.com/libraries/x.xlsx",
		Products:  []*model.Product{product(2, "a"), withDisplay},
	}
	require.NoError(t, s.SaveLibrary(ctx, lib))

	got, err := s.GetLibrary(ctx, "6f1c1a2e-0000-4000-8000-000000000001")
	require.NoError(t, err)
	assert.Equal(t, "母库", got.Name)
	assert.Equal(t, model.LibraryPending, got.Type)
	require.Len(t, got.Products, 2)
	assert.Equal(t, 3, got.Products[1].Index)
	assert.Equal(t, "", got.Products[1].ImageURL)
	assert.Equal(t, []string{"商品标题", "价格"}, got.Products[0].Keys())

	lib.Name = "母库2"
	require.NoError(t, s.SaveLibrary(ctx, lib))
	got, err = s.GetLibrary(ctx, lib.ID)
	require.NoError(t, err)
	assert.Equal(t, "母库2", got.Name)
}

func TestGetLibraryNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetLibrary(context.Background(), "missing")
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
	assert.True(t, apperr.Is(s.DeleteLibrary(context.Background(), "missing"), apperr.CodeNotFound))
	assert.True(t, apperr.Is(s.RenameLibrary(context.Background(), "missing", "x"), apperr.CodeNotFound))
}

func TestListLibrariesAndChildren(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveLibrary(ctx, &model.Library{ID: "m1", Name: "m1", Type: model.LibraryPending, Timestamp: 1}))
	require.NoError(t, s.SaveLibrary(ctx, &model.Library{ID: "m2", Name: "m2", Type: model.LibraryPending, Timestamp: 2}))
	require.NoError(t, s.SaveLibrary(ctx, &model.Library{ID: "c1", Name: "c1", Type: model.LibraryCompleted, Timestamp: 3, OriginalLibraryID: "M1", CreatedBy: "flz"}))
	require.NoError(t, s.SaveLibrary(ctx, &model.Library{ID: "c2", Name: "c2", Type: model.LibraryCompleted, Timestamp: 4, OriginalLibraryID: "m1", CreatedBy: "lyy"}))
	require.NoError(t, s.SaveLibrary(ctx, &model.Library{ID: "c3", Name: "c3", Type: model.LibraryCompleted, Timestamp: 5, OriginalLibraryID: "m2"}))

	pending, err := s.ListLibraries(ctx, model.LibraryPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "m2", pending[0].ID)

	children, err := s.ListChildren(ctx, "M1")
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "c2", children[0].ID)
	assert.Equal(t, "m1", children[1].OriginalLibraryID)
	assert.Equal(t, "flz", children[1].CreatedBy)

	counts, err := s.CountLibraries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.LibraryPending])
	assert.Equal(t, 3, counts[model.LibraryCompleted])
}

func TestRenameAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveLibrary(ctx, &model.Library{ID: "a", Name: "a", Type: model.LibraryPending, Timestamp: 1}))

	require.NoError(t, s.RenameLibrary(ctx, "a", "新名字"))
	got, err := s.GetLibrary(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "新名字", got.Name)

	require.NoError(t, s.DeleteLibrary(ctx, "a"))
	_, err = s.GetLibrary(ctx, "a")
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	v, err := s.GetSetting(ctx, SettingLLMModel)
	require.NoError(t, err)
	assert.Equal(t, "", v)

	require.NoError(t, s.SetSetting(ctx, SettingLLMModel, "gemini-2.0-flash"))
	require.NoError(t, s.SetSetting(ctx, SettingLLMModel, "gemini-2.5-flash"))
	all, err := s.GetAllSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{SettingLLMModel: "gemini-2.5-flash"}, all)
}

func TestImportLogs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateImportLog(ctx, "catalog.xlsx", 1024, "abc")
	require.NoError(t, err)
	require.NoError(t, s.FinishImportLog(ctx, id, ImportResult{
		LibraryID:    "lib",
		Status:       model.ImportSuccess,
		ProductCount: 3,
		ImageCount:   2,
	}))

	logs, err := s.ListImportLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "lib", logs[0].LibraryID)
	assert.Equal(t, model.ImportSuccess, logs[0].Status)
	assert.Equal(t, 3, logs[0].ProductCount)
	assert.False(t, logs[0].CreatedAt.IsZero())
}
