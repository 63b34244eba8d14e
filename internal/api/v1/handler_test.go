package v1

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ganzhe0906/ty-productselect/internal/config"
	"github.com/Ganzhe0906/ty-productselect/internal/enrich"
	"github.com/Ganzhe0906/ty-productselect/internal/exporter"
	"github.com/Ganzhe0906/ty-productselect/internal/importer"
	"github.com/Ganzhe0906/ty-productselect/internal/model"
	"github.com/Ganzhe0906/ty-productselect/internal/service/library"
	"github.com/Ganzhe0906/ty-productselect/internal/service/localize"
	"github.com/Ganzhe0906/ty-productselect/internal/storage"
	"github.com/Ganzhe0906/ty-productselect/internal/store"
	"github.com/Ganzhe0906/ty-productselect/internal/testkit"
)

type fakeLLM struct {
	calls [][]string
}

func (f *fakeLLM) HasKey(creds enrich.Credentials) bool { return creds.APIKey != "" }

func (f *fakeLLM) SummarizeBatch(_ context.Context, titles []string, _ enrich.Credentials) ([]enrich.Summary, error) {
	f.calls = append(f.calls, titles)
	out := make([]enrich.Summary, len(titles))
	for i, t := range titles {
		out[i] = enrich.Summary{Name: "名-" + t, Scenario: "场景"}
	}
	return out, nil
}

func (f *fakeLLM) Ping(_ context.Context, creds enrich.Credentials) *enrich.DebugResult {
	return &enrich.DebugResult{Success: true, FinalResult: &enrich.Summary{Name: creds.Model}}
}

type testServer struct {
	router *gin.Engine
	store  *store.Store
	llm    *fakeLLM
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.New(store.DriverSQLite, filepath.Join(t.TempDir(), "productselect.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	objects := storage.NewMemoryStore("https://pub.example.com")
	fetcher := storage.NewFetcher(objects, time.Second)
	writer := exporter.NewWriter(fetcher, exporter.Config{}, nil)
	llm := &fakeLLM{}

	h := NewHandler(Deps{
		Store:       st,
		Libraries:   library.NewService(st, objects, fetcher, writer, nil, nil),
		Importer:    importer.NewCoordinator(st, objects, nil),
		Localize:    localize.NewPipeline(llm, writer, 0, nil),
		LLM:         llm,
		Users:       []config.UserConfig{{Name: "flz", Password: "s3cret"}},
		StorageKind: "memory",
	})
	r := gin.New()
	h.RegisterRoutes(r.Group("/api"))
	return &testServer{router: r, store: st, llm: llm}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) upload(t *testing.T, path string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", "夏季选品.xlsx")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func workbook(t *testing.T) []byte {
	return testkit.Workbook(t, testkit.WorkbookSpec{
		Rows: [][]any{
			{"商品标题", "最低售价", "src"},
			{"Widget", "9.99", " "},
			{"Gadget", 19.5, " "},
		},
		Images: map[string][]byte{
			"C2": testkit.PNG(t, 2, 2, color.Black),
		},
	})
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestLibraryLifecycle(t *testing.T) {
	s := newTestServer(t)

	w := s.upload(t, "/api/libraries", workbook(t), map[string]string{"name": "夏季"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	lib := decode[model.Library](t, w)
	assert.Equal(t, "夏季", lib.Name)
	assert.Len(t, lib.Products, 2)
	assert.Contains(t, w.Body.String(), `"excelUrl"`)

	w = s.do(t, http.MethodGet, "/api/libraries?type=pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.Library](t, w), 1)

	w = s.do(t, http.MethodGet, "/api/libraries/"+lib.ID+"/parse", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"_image_url":"data:image/png;base64,`)

	w = s.do(t, http.MethodPatch, "/api/libraries/"+lib.ID, RenameRequest{Name: "秋季"})
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/api/libraries/"+lib.ID, nil)
	assert.Equal(t, "秋季", decode[model.Library](t, w).Name)

	w = s.do(t, http.MethodDelete, "/api/libraries/"+lib.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/libraries/"+lib.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decode[map[string]string](t, w)["error"], "选品库不存在")

	w = s.do(t, http.MethodGet, "/api/imports", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.ImportLog](t, w), 1)
}

func TestUploadErrors(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/libraries", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.upload(t, "/api/libraries", []byte("not xlsx"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, decode[map[string]string](t, w)["error"])

	w = s.do(t, http.MethodGet, "/api/libraries?type=archived", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func sseEvents(t *testing.T, body string) []map[string]any {
	t.Helper()
	var events []map[string]any
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt))
		events = append(events, evt)
	}
	return events
}

func TestImportStream(t *testing.T) {
	s := newTestServer(t)

	w := s.upload(t, "/api/libraries/import/stream", workbook(t), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	events := sseEvents(t, w.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, "start", events[0]["type"])
	last := events[len(events)-1]
	assert.Equal(t, "done", last["type"])
	assert.Equal(t, "夏季选品", last["data"].(map[string]any)["name"])
}

func TestExportAndStreamDownload(t *testing.T) {
	s := newTestServer(t)
	lib := decode[model.Library](t, s.upload(t, "/api/libraries", workbook(t), nil))

	body := ExportRequest{Products: lib.Products[1:], LibraryID: lib.ID}
	w := s.do(t, http.MethodPost, "/api/export", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, storage.XLSXContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "selection_results_")

	f := testkit.Open(t, w.Body.Bytes())
	title, err := f.GetCellValue(f.GetSheetName(0), "A2")
	require.NoError(t, err)
	assert.Equal(t, "Gadget", title)

	w = s.do(t, http.MethodPost, "/api/export/stream", body)
	require.Equal(t, http.StatusOK, w.Code)
	events := sseEvents(t, w.Body.String())
	last := events[len(events)-1]
	require.Equal(t, "done", last["type"], w.Body.String())
	url := last["data"].(map[string]any)["downloadUrl"].(string)
	assert.True(t, strings.HasPrefix(url, "/api/export/download/"))

	w = s.do(t, http.MethodGet, url, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Body.Bytes())

	w = s.do(t, http.MethodGet, url, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/export", ExportRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No products to export", decode[map[string]string](t, w)["error"])
}

func TestExportFinishesAfterClientDisconnect(t *testing.T) {
	s := newTestServer(t)
	lib := decode[model.Library](t, s.upload(t, "/api/libraries", workbook(t), nil))

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(ExportRequest{Products: lib.Products[:1], LibraryID: lib.ID}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/export", &buf).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	f := testkit.Open(t, w.Body.Bytes())
	sheet := f.GetSheetName(0)
	header, err := f.GetCellValue(sheet, "B1")
	require.NoError(t, err)
	assert.Equal(t, "最低售价", header)
	pics, err := f.GetPictures(sheet, "C2")
	require.NoError(t, err)
	assert.Len(t, pics, 1)
}

func TestCombinedEndpoints(t *testing.T) {
	s := newTestServer(t)
	lib := decode[model.Library](t, s.upload(t, "/api/libraries", workbook(t), nil))

	for _, creator := range []string{"flz", "lyy"} {
		w := s.do(t, http.MethodPost, "/api/libraries/completed", library.SaveCompletedRequest{
			Products:          lib.Products[:1],
			OriginalLibraryID: lib.ID,
			CreatedBy:         creator,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := s.do(t, http.MethodGet, "/api/libraries/combined", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[[]map[string]any](t, w)
	require.Len(t, entries, 1)
	assert.Equal(t, true, entries[0]["isBothDone"])
	assert.Equal(t, float64(1), entries[0]["combinedCount"])

	w = s.do(t, http.MethodPost, "/api/export/combined", CombinedExportRequest{OriginalLibraryID: lib.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "combined_selection.xlsx")

	w = s.do(t, http.MethodPost, "/api/export/combined", CombinedExportRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLocalizeStreamsNDJSON(t *testing.T) {
	s := newTestServer(t)

	w := s.upload(t, "/api/localize", workbook(t), map[string]string{"apiKey": "k", "model": "m"})
	require.Equal(t, http.StatusOK, w.Code)

	var events []localize.Event
	sc := bufio.NewScanner(bytes.NewReader(w.Body.Bytes()))
	sc.Buffer(make([]byte, 1<<20), 16<<20)
	for sc.Scan() {
		var evt localize.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &evt))
		events = append(events, evt)
	}
	require.NotEmpty(t, events)
	assert.Equal(t, "file", events[len(events)-1].Type)
	assert.Equal(t, [][]string{{"Widget", "Gadget"}}, s.llm.calls)
}

func TestLocalizeBatchAndDebug(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/localize/batch", map[string]any{"apiKey": "k"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/localize/batch", map[string]any{"titles": []string{"Bottle"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "API Key is missing", decode[map[string]string](t, w)["error"])

	// 已保存的 Key 作为默认值
	w = s.do(t, http.MethodPatch, "/api/settings", map[string]string{"apiKey": "saved-key-123456", "model": "gemini-2.0-flash"})
	require.Equal(t, http.StatusOK, w.Code)
	settings := decode[SettingsResponse](t, w)
	assert.True(t, settings.APIKeySet)
	assert.Equal(t, "save********3456", settings.APIKeyMasked)

	w = s.do(t, http.MethodPost, "/api/localize/batch", map[string]any{"titles": []string{"Bottle"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "名-Bottle")

	w = s.do(t, http.MethodPost, "/api/debug/llm", map[string]any{})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[map[string]any](t, w)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "Connection successful!", resp["message"])
}

func TestLoginAndStatus(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/login", LoginRequest{Username: "FLZ", Password: "s3cret"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/login", LoginRequest{Username: "flz", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[StatusResponse](t, w)
	assert.True(t, status.OK)
	assert.Equal(t, "memory", status.Storage)
	assert.Equal(t, []string{"flz", "lyy"}, status.Creators)
	assert.False(t, status.LLMConfigured)
}

func TestContentDisposition(t *testing.T) {
	t.Parallel()

	got := contentDisposition("双人 选品.xlsx")
	assert.Equal(t, `attachment; filename="__ __.xlsx"; filename*=UTF-8''%E5%8F%8C%E4%BA%BA%20%E9%80%89%E5%93%81.xlsx`, got)
}

func TestExportDownloadStoreExpires(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	s := newExportDownloadStore()
	s.now = func() time.Time { return now }

	token := s.put("a.xlsx", []byte("x"), time.Minute)
	now = now.Add(2 * time.Minute)
	_, ok := s.take(token)
	assert.False(t, ok)

	token = s.put("b.xlsx", []byte("y"), time.Minute)
	item, ok := s.take(token)
	require.True(t, ok)
	assert.Equal(t, "b.xlsx", item.filename)
}
