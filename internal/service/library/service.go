// Package library 选品库业务：查询、删除级联、保存选品结果、导出与双人交集
package library

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ganzhe0906/ty-productselect/internal/apperr"
	"github.com/Ganzhe0906/ty-productselect/internal/exporter"
	"github.com/Ganzhe0906/ty-productselect/internal/model"
	"github.com/Ganzhe0906/ty-productselect/internal/parser"
	"github.com/Ganzhe0906/ty-productselect/internal/storage"
	"github.com/Ganzhe0906/ty-productselect/internal/store"
)

// 导出工作表名
const (
	CompletedSheetName = "Completed Selection"
	CombinedSheetName  = "双人共同选中"
)

// DefaultCreators 默认的两位选品人
var DefaultCreators = []string{"flz", "lyy"}

// Fetcher 按链接读取工作簿
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Service 选品库服务
type Service struct {
	store    *store.Store
	objects  storage.ObjectStore
	fetcher  Fetcher
	writer   *exporter.Writer
	creators []string
	logger   *zap.Logger
}

// NewService 创建服务；creators 少于两人时使用默认值
func NewService(st *store.Store, objects storage.ObjectStore, fetcher Fetcher, writer *exporter.Writer, creators []string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	normalized := make([]string, 0, len(creators))
	for _, c := range creators {
		if c = normalizeCreator(c); c != "" {
			normalized = append(normalized, c)
		}
	}
	if len(normalized) < 2 {
		normalized = DefaultCreators
	}
	return &Service{
		store:    st,
		objects:  objects,
		fetcher:  fetcher,
		writer:   writer,
		creators: normalized[:2],
		logger:   logger,
	}
}

// Creators 参与交集的两位选品人
func (s *Service) Creators() []string {
	return append([]string(nil), s.creators...)
}

// normalizeID 统一小写；非 UUID 视为不存在
func normalizeID(id string) (string, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if _, err := uuid.Parse(id); err != nil {
		return "", apperr.NotFound("选品库不存在: %s", id)
	}
	return id, nil
}

// List 按类型列出，最新在前
func (s *Service) List(ctx context.Context, typ model.LibraryType) ([]*model.Library, error) {
	if typ == "" {
		typ = model.LibraryPending
	}
	if !typ.Valid() {
		return nil, apperr.Invalid("无效的选品库类型: %s", typ)
	}
	return s.store.ListLibraries(ctx, typ)
}

// Get 按 ID 查询
func (s *Service) Get(ctx context.Context, id string) (*model.Library, error) {
	id, err := normalizeID(id)
	if err != nil {
		return nil, err
	}
	return s.store.GetLibrary(ctx, id)
}

// GetForDisplay 查询并为每个商品附上工作簿中的原图（data URI）
func (s *Service) GetForDisplay(ctx context.Context, id string) (*model.Library, error) {
	lib, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if lib.ExcelURL == "" {
		return nil, apperr.NotFound("选品库工作簿不存在: %s", lib.ID)
	}

	data, err := s.fetcher.Fetch(ctx, lib.ExcelURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorage, err, "下载工作簿失败")
	}
	wb, err := parser.OpenWorkbook(data, s.logger)
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	images := wb.ReadImages()
	for i, p := range lib.Products {
		img, ok := images.FirstInRow(parser.AnchorRowForIndex(p.Index))
		if !ok {
			continue
		}
		p = p.Clone()
		p.ImageURL = DataURI(img)
		lib.Products[i] = p
	}
	return lib, nil
}

// DataURI 图片 -> data:image/...;base64,...
func DataURI(img parser.Image) string {
	return fmt.Sprintf("data:%s;base64,%s", img.ContentType(), base64.StdEncoding.EncodeToString(img.Data))
}

// Rename 重命名
func (s *Service) Rename(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperr.Invalid("名称不能为空")
	}
	id, err := normalizeID(id)
	if err != nil {
		return err
	}
	return s.store.RenameLibrary(ctx, id, name)
}

// DeleteReport 删除结果
type DeleteReport struct {
	ID              string `json:"id"`
	DeletedChildren int    `json:"deletedChildren"`
	FailedChildren  int    `json:"failedChildren"`
	FailedObjects   int    `json:"failedObjects"`
}

// Delete 删除记录；母库同时删除工作簿、本存储图片和全部子记录
func (s *Service) Delete(ctx context.Context, id string) (*DeleteReport, error) {
	lib, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	report := &DeleteReport{ID: lib.ID}

	if lib.Type == model.LibraryPending {
		urls := append([]string{lib.ExcelURL}, productURLs(s.objects, lib.Products)...)
		report.FailedObjects = storage.DeleteAll(ctx, s.objects, urls, s.logger)

		children, err := s.store.ListChildren(ctx, lib.ID)
		if err != nil {
			s.logger.Warn("查询子记录失败", zap.String("library_id", lib.ID), zap.Error(err))
		}
		for _, child := range children {
			if err := s.store.DeleteLibrary(ctx, child.ID); err != nil {
				report.FailedChildren++
				s.logger.Warn("删除子记录失败",
					zap.String("library_id", lib.ID),
					zap.String("child_id", child.ID),
					zap.Error(err))
				continue
			}
			report.DeletedChildren++
		}
	}

	if err := s.store.DeleteLibrary(ctx, lib.ID); err != nil {
		return nil, err
	}

	s.logger.Info("选品库已删除",
		zap.String("library_id", lib.ID),
		zap.String("type", string(lib.Type)),
		zap.Int("children", report.DeletedChildren),
		zap.Int("failed_objects", report.FailedObjects))
	return report, nil
}

// productURLs 商品字段中属于本存储的链接
func productURLs(objects storage.ObjectStore, products []*model.Product) []string {
	var values []string
	for _, p := range products {
		for _, k := range p.Keys() {
			if v, ok := p.Get(k); ok && v.Kind() == model.KindString {
				values = append(values, v.Text())
			}
		}
	}
	return storage.OwnedURLs(objects, values)
}

// SaveCompletedRequest 保存选品结果
type SaveCompletedRequest struct {
	Name              string           `json:"name"`
	Products          []*model.Product `json:"products"`
	OriginalLibraryID string           `json:"originalLibraryId"`
	CreatedBy         string           `json:"createdBy"`
}

// SaveCompleted 保存选品结果：优先复制母库工作簿，失败时生成平铺工作簿
func (s *Service) SaveCompleted(ctx context.Context, req SaveCompletedRequest) (*model.Library, error) {
	if len(req.Products) == 0 {
		return nil, apperr.Invalid("No products")
	}

	id := uuid.NewString()
	workbookPath := storage.WorkbookPath(id)
	originalID := strings.ToLower(strings.TrimSpace(req.OriginalLibraryID))
	if originalID != "" {
		if _, err := uuid.Parse(originalID); err != nil {
			return nil, apperr.Invalid("无效的母库 ID: %s", req.OriginalLibraryID)
		}
	}

	var excelURL string
	if originalID != "" {
		url, err := s.copyMotherWorkbook(ctx, originalID, workbookPath)
		if err != nil {
			s.logger.Warn("复制母库工作簿失败，改为生成平铺工作簿",
				zap.String("original_library_id", originalID),
				zap.Error(err))
		}
		excelURL = url
	}

	if excelURL == "" {
		res, err := s.writer.Write(ctx, exporter.RowsFor(req.Products), exporter.Options{
			SheetName:  CompletedSheetName,
			SkipImages: true,
		})
		if err != nil {
			return nil, err
		}
		excelURL, err = s.objects.Put(ctx, workbookPath, res.Data, storage.XLSXContentType)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeStorage, err, "上传工作簿失败")
		}
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fmt.Sprintf("Selection_%d", model.NowMillis())
	}

	lib := &model.Library{
		ID:                id,
		Name:              name,
		Type:              model.LibraryCompleted,
		Timestamp:         model.NowMillis(),
		ExcelURL:          excelURL,
		Products:          req.Products,
		OriginalLibraryID: originalID,
		CreatedBy:         normalizeCreator(req.CreatedBy),
	}
	if err := s.store.SaveLibrary(ctx, lib); err != nil {
		return nil, err
	}

	s.logger.Info("选品结果已保存",
		zap.String("library_id", id),
		zap.String("original_library_id", originalID),
		zap.String("created_by", lib.CreatedBy),
		zap.Int("products", len(req.Products)))
	return lib, nil
}

func (s *Service) copyMotherWorkbook(ctx context.Context, motherID, destPath string) (string, error) {
	mother, err := s.store.GetLibrary(ctx, motherID)
	if err != nil {
		return "", err
	}
	if mother.ExcelURL == "" {
		return "", apperr.NotFound("母库工作簿不存在: %s", motherID)
	}
	return s.objects.Copy(ctx, mother.ExcelURL, destPath)
}

// ExportRequest 导出请求
type ExportRequest struct {
	Products  []*model.Product
	LibraryID string

	Progress     func(exporter.ProgressEvent)
	ProgressFrom int
	ProgressTo   int
}

// ExportFile 导出文件
type ExportFile struct {
	Filename string
	Data     []byte
	Result   *exporter.Result
}

// Export 导出选中商品；有来源库时以其工作簿为模板，模板不可用时退回平铺模式
func (s *Service) Export(ctx context.Context, req ExportRequest) (*ExportFile, error) {
	if len(req.Products) == 0 {
		return nil, apperr.Invalid("No products to export")
	}

	template := s.templateFor(ctx, req.LibraryID)
	res, err := s.write(ctx, req.Products, template, exporter.Options{
		Progress:     req.Progress,
		ProgressFrom: req.ProgressFrom,
		ProgressTo:   req.ProgressTo,
	})
	if err != nil {
		return nil, err
	}
	return &ExportFile{
		Filename: fmt.Sprintf("selection_results_%d.xlsx", model.NowMillis()),
		Data:     res.Data,
		Result:   res,
	}, nil
}

// write 模板模式失败时以平铺模式重试
func (s *Service) write(ctx context.Context, products []*model.Product, template []byte, opts exporter.Options) (*exporter.Result, error) {
	rows := exporter.RowsFor(products)
	if len(template) > 0 {
		tplOpts := opts
		tplOpts.Template = template
		res, err := s.writer.Write(ctx, rows, tplOpts)
		if err == nil {
			return res, nil
		}
		s.logger.Warn("模板导出失败，改用平铺模式", zap.Error(err))
	}
	return s.writer.Write(ctx, rows, opts)
}

// templateFor 读取模板工作簿；completed 记录优先使用母库工作簿，任何失败都返回 nil
func (s *Service) templateFor(ctx context.Context, libraryID string) []byte {
	if strings.TrimSpace(libraryID) == "" {
		return nil
	}
	lib, err := s.Get(ctx, libraryID)
	if err != nil {
		s.logger.Warn("模板库不存在", zap.String("library_id", libraryID), zap.Error(err))
		return nil
	}

	candidates := []string{lib.ExcelURL}
	if lib.Type == model.LibraryCompleted && lib.OriginalLibraryID != "" {
		if mother, err := s.Get(ctx, lib.OriginalLibraryID); err == nil && mother.ExcelURL != "" {
			candidates = []string{mother.ExcelURL, lib.ExcelURL}
		}
	}

	for _, url := range candidates {
		if url == "" {
			continue
		}
		data, err := s.fetcher.Fetch(ctx, url)
		if err != nil {
			s.logger.Warn("下载模板失败", zap.String("url", url), zap.Error(err))
			continue
		}
		return data
	}
	return nil
}

// CreatorCount 单人选品数量
type CreatorCount struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

// CombinedEntry 母库的双人选品概览
type CombinedEntry struct {
	ID            string
	Name          string
	ProductCount  int
	Timestamp     int64
	Creators      []string
	Selections    map[string]*CreatorCount
	CombinedCount int
	IsBothDone    bool
}

// MarshalJSON 选品人名作为顶层字段输出，如 "flz": {"count": 3}
func (e CombinedEntry) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"id":            e.ID,
		"name":          e.Name,
		"productCount":  e.ProductCount,
		"timestamp":     e.Timestamp,
		"combinedCount": e.CombinedCount,
		"isBothDone":    e.IsBothDone,
	}
	for _, c := range e.Creators {
		if sel := e.Selections[c]; sel != nil {
			out[c] = sel
		} else {
			out[c] = nil
		}
	}
	return json.Marshal(out)
}

// selectionPair 某母库下两位选品人的最新记录
func (s *Service) selectionPair(children []*model.Library) (*model.Library, *model.Library) {
	return LatestByCreator(children, s.creators[0]), LatestByCreator(children, s.creators[1])
}

// Combined 全部母库的双人选品概览，最新在前
func (s *Service) Combined(ctx context.Context) ([]CombinedEntry, error) {
	pending, err := s.store.ListLibraries(ctx, model.LibraryPending)
	if err != nil {
		return nil, err
	}
	completed, err := s.store.ListLibraries(ctx, model.LibraryCompleted)
	if err != nil {
		return nil, err
	}

	byMother := make(map[string][]*model.Library)
	for _, c := range completed {
		if c.OriginalLibraryID == "" {
			continue
		}
		byMother[c.OriginalLibraryID] = append(byMother[c.OriginalLibraryID], c)
	}

	out := make([]CombinedEntry, 0, len(pending))
	for _, p := range pending {
		a, b := s.selectionPair(byMother[p.ID])
		entry := CombinedEntry{
			ID:           p.ID,
			Name:         p.Name,
			ProductCount: len(p.Products),
			Timestamp:    p.Timestamp,
			Creators:     s.Creators(),
			Selections:   make(map[string]*CreatorCount, 2),
			IsBothDone:   a != nil && b != nil,
		}
		for i, rec := range []*model.Library{a, b} {
			if rec != nil {
				entry.Selections[s.creators[i]] = &CreatorCount{ID: rec.ID, Count: len(rec.Products)}
			}
		}
		if entry.IsBothDone {
			entry.CombinedCount = len(Intersect(a.Products, b.Products))
		}
		out = append(out, entry)
	}
	return out, nil
}

// Combine 两位选品人在某母库上的交集商品
func (s *Service) Combine(ctx context.Context, motherID string) ([]*model.Product, *model.Library, error) {
	id := strings.ToLower(strings.TrimSpace(motherID))
	if id == "" {
		return nil, nil, apperr.Invalid("Original Library ID is required")
	}

	children, err := s.store.ListChildren(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	a, b := s.selectionPair(children)
	if a == nil || b == nil {
		return nil, nil, apperr.NotFound("未找到双人的完整选品记录 (母库 ID: %s)", id)
	}

	combined := Intersect(a.Products, b.Products)
	if len(combined) == 0 {
		return nil, nil, apperr.NotFound("双人选品没有重合项")
	}

	mother, err := s.store.GetLibrary(ctx, id)
	if err != nil && !apperr.Is(err, apperr.CodeNotFound) {
		return nil, nil, err
	}
	return combined, mother, nil
}

// CombinedExport 导出双人交集；母库工作簿可用时使用模板模式
func (s *Service) CombinedExport(ctx context.Context, motherID string) (*ExportFile, error) {
	products, mother, err := s.Combine(ctx, motherID)
	if err != nil {
		return nil, err
	}

	var template []byte
	if mother != nil && mother.ExcelURL != "" {
		data, err := s.fetcher.Fetch(ctx, mother.ExcelURL)
		if err != nil {
			s.logger.Warn("下载母库工作簿失败", zap.String("library_id", mother.ID), zap.Error(err))
		} else {
			template = data
		}
	}

	res, err := s.write(ctx, products, template, exporter.Options{SheetName: CombinedSheetName})
	if err != nil {
		return nil, err
	}
	return &ExportFile{
		Filename: "combined_selection.xlsx",
		Data:     res.Data,
		Result:   res,
	}, nil
}
