package exporter

import (
	"context"
	"fmt"
	"image/color"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ganzhe0906/ty-productselect/internal/model"
	"github.com/Ganzhe0906/ty-productselect/internal/parser"
	"github.com/Ganzhe0906/ty-productselect/internal/testkit"
)

type mapFetcher struct {
	mu     sync.Mutex
	images map[string][]byte
	calls  []string
}

func (f *mapFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()

	data, ok := f.images[url]
	if !ok {
		return nil, fmt.Errorf("404: %s", url)
	}
	return data, nil
}

func product(index int, kv ...string) *model.Product {
	p := model.NewProduct(index)
	for i := 0; i+1 < len(kv); i += 2 {
		p.Set(kv[i], model.String(kv[i+1]))
	}
	return p
}

func cellText(t *testing.T, data []byte, cell string) string {
	t.Helper()
	f := testkit.Open(t, data)
	v, err := f.GetCellValue(testkit.SheetName, cell)
	require.NoError(t, err)
	return v
}

func TestTemplateModeCopiesSelectedRowsAndImages(t *testing.T) {
	t.Parallel()

	red := testkit.PNG(t, 4, 4, color.RGBA{R: 255, A: 255})
	green := testkit.PNG(t, 5, 5, color.RGBA{G: 255, A: 255})
	blue := testkit.PNG(t, 6, 6, color.RGBA{B: 255, A: 255})
	gray := testkit.PNG(t, 7, 7, color.Gray{Y: 128})

	template := testkit.Workbook(t, testkit.WorkbookSpec{
		Rows: [][]any{
			{"商品标题", "最低售价", "src"},
			{"A", 1, ""},
			{"B", 2, ""},
			{"C", 3, ""},
			{"D", 4, ""},
		},
		Images: map[string][]byte{"C2": red, "C3": green, "C4": blue, "C5": gray},
		Widths: map[string]float64{"A": 40},
	})

	fetcher := &mapFetcher{}
	w := NewWriter(fetcher, Config{}, nil)
	res, err := w.Write(context.Background(), RowsFor([]*model.Product{
		product(3, "商品标题", "B"),
		product(5, "商品标题", "D"),
	}), Options{Template: template})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Embedded)
	assert.Empty(t, fetcher.calls)

	out := testkit.Open(t, res.Data)
	rows, err := out.GetRows(testkit.SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"商品标题", "最低售价", "src"}, rows[0])
	assert.Equal(t, "B", rows[1][0])
	assert.Equal(t, "2", rows[1][1])
	assert.Equal(t, "D", rows[2][0])
	assert.Equal(t, "4", rows[2][1])

	pics, err := out.GetPictures(testkit.SheetName, "C2")
	require.NoError(t, err)
	require.Len(t, pics, 1)
	assert.Equal(t, green, pics[0].File)

	pics, err = out.GetPictures(testkit.SheetName, "C3")
	require.NoError(t, err)
	require.Len(t, pics, 1)
	assert.Equal(t, gray, pics[0].File)

	width, err := out.GetColWidth(testkit.SheetName, "A")
	require.NoError(t, err)
	assert.InDelta(t, 40, width, 0.01)
	width, err = out.GetColWidth(testkit.SheetName, "B")
	require.NoError(t, err)
	assert.InDelta(t, DefaultColumnWidth, width, 0.01)

	height, err := out.GetRowHeight(testkit.SheetName, 2)
	require.NoError(t, err)
	assert.InDelta(t, DefaultRowHeight, height, 0.01)
}

func TestTemplateModeFallsBackToURL(t *testing.T) {
	t.Parallel()

	template := testkit.Workbook(t, testkit.WorkbookSpec{
		Rows: [][]any{
			{"商品标题", "主图src"},
			{"A", "http://img/a.png"},
			{"B", ""},
		},
	})
	img := testkit.PNG(t, 3, 3, color.Black)
	fetcher := &mapFetcher{images: map[string][]byte{"http://img/a.png": img}}

	res, err := NewWriter(fetcher, Config{}, nil).Write(context.Background(), RowsFor([]*model.Product{
		product(2, "商品标题", "A", "主图src", "http://img/a.png"),
		product(3, "商品标题", "B"),
	}), Options{Template: template, SheetName: "双人共同选中"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Embedded)
	assert.Equal(t, 1, res.Missing)

	out := testkit.Open(t, res.Data)
	assert.Equal(t, []string{"双人共同选中"}, out.GetSheetList())

	pics, err := out.GetPictures("双人共同选中", "B2")
	require.NoError(t, err)
	require.Len(t, pics, 1)

	v, err := out.GetCellValue("双人共同选中", "B2")
	require.NoError(t, err)
	assert.Equal(t, ImagePlaceholder, v)
	v, err = out.GetCellValue("双人共同选中", "B3")
	require.NoError(t, err)
	assert.Equal(t, ImageMissing, v)
}

func TestTemplateModeClearsLinkWhenPictureInOtherColumn(t *testing.T) {
	t.Parallel()

	pic := testkit.PNG(t, 3, 3, color.Black)
	template := testkit.Workbook(t, testkit.WorkbookSpec{
		Rows: [][]any{
			{"商品标题", "src", "图片"},
			{"A", "http://img/a.png", ""},
		},
		Images: map[string][]byte{"C2": pic},
	})
	res, err := NewWriter(&mapFetcher{}, Config{}, nil).Write(context.Background(),
		RowsFor([]*model.Product{product(2, "商品标题", "A")}), Options{Template: template})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Embedded)
	assert.Equal(t, "A", cellText(t, res.Data, "A2"))
	assert.Equal(t, ImagePlaceholder, cellText(t, res.Data, "B2"))

	// 没有链接列时主图列回落到第一列，标题不能被清掉
	template = testkit.Workbook(t, testkit.WorkbookSpec{
		Rows:   [][]any{{"商品标题", "图片"}, {"A", ""}},
		Images: map[string][]byte{"B2": pic},
	})
	res, err = NewWriter(&mapFetcher{}, Config{}, nil).Write(context.Background(),
		RowsFor([]*model.Product{product(2, "商品标题", "A")}), Options{Template: template})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Embedded)
	assert.Equal(t, "A", cellText(t, res.Data, "A2"))
}

func TestTemplateModeRejectsBrokenTemplate(t *testing.T) {
	t.Parallel()

	_, err := NewWriter(nil, Config{}, nil).Write(context.Background(),
		RowsFor([]*model.Product{product(2)}), Options{Template: []byte("not a workbook")})
	require.Error(t, err)
}

func TestFlatModeColumnsAndPlaceholders(t *testing.T) {
	t.Parallel()

	img := testkit.PNG(t, 8, 8, color.White)
	fetcher := &mapFetcher{images: map[string][]byte{"http://img/ok.png": img}}

	products := []*model.Product{
		product(2, "商品标题", "ok", "价格", "1", "主图src", "http://img/ok.png", "中文商品名", "好", "场景用途", "家"),
		product(3, "商品标题", "broken", "价格", "2", "主图src", "http://img/missing.png"),
		product(4, "商品标题", "none", "价格", "3"),
	}
	products[0].Set("_hidden", model.String("x"))

	var events []ProgressEvent
	res, err := NewWriter(fetcher, Config{Concurrency: 2}, nil).Write(context.Background(), RowsFor(products), Options{
		Progress:     func(e ProgressEvent) { events = append(events, e) },
		ProgressFrom: 80,
		ProgressTo:   95,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Embedded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Missing)

	out := testkit.Open(t, res.Data)
	rows, err := out.GetRows(testkit.SheetName)
	require.NoError(t, err)
	assert.Equal(t, []string{"商品标题", "中文商品名", "场景用途", "价格", "主图src"}, rows[0])

	assert.Equal(t, ImagePlaceholder, cellText(t, res.Data, "E2"))
	assert.Equal(t, ImageLoadFailed, cellText(t, res.Data, "E3"))
	assert.Equal(t, ImageMissing, cellText(t, res.Data, "E4"))
	assert.Equal(t, "none", cellText(t, res.Data, "A4"))

	pics, err := out.GetPictures(testkit.SheetName, "E2")
	require.NoError(t, err)
	require.Len(t, pics, 1)

	width, err := out.GetColWidth(testkit.SheetName, "B")
	require.NoError(t, err)
	assert.InDelta(t, EnrichedColumnWidth, width, 0.01)

	require.NotEmpty(t, events)
	last := 0
	for _, e := range events {
		assert.GreaterOrEqual(t, e.Percent, 80)
		assert.LessOrEqual(t, e.Percent, 95)
		assert.GreaterOrEqual(t, e.Percent, last)
		last = e.Percent
	}
	assert.Equal(t, 95, last)
}

func TestFlatModeSkipImagesKeepsText(t *testing.T) {
	t.Parallel()

	fetcher := &mapFetcher{}
	res, err := NewWriter(fetcher, Config{}, nil).Write(context.Background(),
		RowsFor([]*model.Product{product(2, "商品标题", "a", "主图src", "http://img/a.png")}),
		Options{SkipImages: true, SheetName: "Completed Selection"})
	require.NoError(t, err)
	assert.Empty(t, fetcher.calls)

	out := testkit.Open(t, res.Data)
	v, err := out.GetCellValue("Completed Selection", "B2")
	require.NoError(t, err)
	assert.Equal(t, "http://img/a.png", v)
}

func TestRowURLOverridesProductImage(t *testing.T) {
	t.Parallel()

	img := testkit.PNG(t, 2, 2, color.Black)
	fetcher := &mapFetcher{images: map[string][]byte{"http://img/override.png": img}}

	res, err := NewWriter(fetcher, Config{}, nil).Write(context.Background(), []Row{{
		Product:  product(2, "主图src", "http://img/original.png"),
		ImageURL: `<img src="http://img/override.png">`,
	}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Embedded)
	assert.Equal(t, []string{"http://img/override.png"}, fetcher.calls)
}

func TestBuildColumns(t *testing.T) {
	t.Parallel()

	cols := BuildColumns([]*model.Product{
		product(2, "id", "1", "title", "x", "场景用途", "s"),
		product(3, "中文商品名", "n", "_original_url_", "u", "extra", "e"),
	})
	keys := make([]string, len(cols))
	for i, c := range cols {
		keys[i] = c.Key
	}
	assert.Equal(t, []string{"id", "title", "中文商品名", "场景用途", "extra"}, keys)
	assert.Equal(t, float64(EnrichedColumnWidth), cols[2].Width)
	assert.Equal(t, float64(DefaultColumnWidth), cols[0].Width)
}

func TestColumnsWithoutTitleKeepOrder(t *testing.T) {
	t.Parallel()

	cols := ColumnsFor([]string{"场景用途", "", "价格"})
	assert.Equal(t, "场景用途", cols[0].Key)
	assert.Equal(t, "Col 2", cols[1].Header)
}

func TestPrepareImage(t *testing.T) {
	t.Parallel()

	small := testkit.PNG(t, 10, 20, color.Black)
	img, err := prepareImage(small, 360)
	require.NoError(t, err)
	assert.Equal(t, ".png", img.Ext)
	assert.Equal(t, small, img.Data)

	wide := testkit.PNG(t, 800, 400, color.White)
	img, err = prepareImage(wide, 360)
	require.NoError(t, err)
	assert.Equal(t, ".jpg", img.Ext)
	assert.Equal(t, 360, img.Width)
	assert.Equal(t, 180, img.Height)

	_, err = prepareImage([]byte("<svg/>"), 360)
	require.Error(t, err)
}

func TestFitScale(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.5, fitScale(240, 120, 120), 1e-9)
	assert.InDelta(t, 1.0, fitScale(0, 0, 120), 1e-9)
	assert.InDelta(t, 10.0, fitScale(12, 6, 120), 1e-9)
}

func TestPlanRowsUsesSourceIndex(t *testing.T) {
	t.Parallel()

	plan := planRows(RowsFor([]*model.Product{product(7), product(3)}))
	require.Len(t, plan, 2)
	assert.Equal(t, 2, plan[0].target)
	assert.Equal(t, 7, plan[0].source)
	assert.Equal(t, 3, plan[1].target)
	assert.Equal(t, 3, plan[1].source)
	assert.Equal(t, 6, parser.AnchorRowForIndex(plan[0].source))
}
