package parser

import (
	"strings"

	"github.com/Ganzhe0906/ty-productselect/internal/model"
)

// 规范字段名
const (
	FieldTitle       = "商品标题"
	FieldPrice       = "商品售价"
	FieldImage       = "主图src"
	FieldCategory    = "类目"
	FieldChineseName = "中文商品名"
	FieldScenario    = "场景用途"
)

// 类目层级列
var categoryLevels = []string{"商品一级分类", "商品二级分类", "商品三级分类"}

// FieldAlias 规范字段及其可接受的表头字面量（规范名总在首位）
type FieldAlias struct {
	Canonical string
	Aliases   []string
}

// FieldAliases 表头别名表，顺序即匹配优先级
var FieldAliases = []FieldAlias{
	{FieldTitle, []string{"商品标题", "商品名", "标题", "Name", "Title"}},
	{FieldPrice, []string{"商品售价", "最低售价", "售价", "价格", "Price", "Sale Price"}},
	{"邮费", []string{"邮费", "物流费用", "运费", "Shipping"}},
	{"评分", []string{"评分", "商品评分", "店铺评分", "Rating", "Score"}},
	{"商店名称", []string{"商店名称", "店铺名", "店铺名称", "Shop Name", "Store Name"}},
	{"店铺销量", []string{"店铺销量", "店铺总销量", "Shop Sales"}},
	{"近7天销量", []string{"近7天销量", "近 7 天销量", "7天销量", "7D Sales"}},
	{"近7天销售额", []string{"近7天销售额", "近 7 天销售额", "7天销售额", "7D Revenue"}},
	{"总销量", []string{"总销量", "销量", "累计销量", "Total Sales"}},
	{"关联达人", []string{"关联达人", "达人数量", "达人", "关联达人数", "Influencers", "Creator Count"}},
	{"达人出单率", []string{"达人出单率", "出单率", "转化率", "达人转化率", "Conversion", "Conv %", "CR%"}},
	{"关联视频", []string{"关联视频", "视频", "关联视频数", "Videos"}},
	{"视频曝光量", []string{"视频曝光量", "曝光", "播放量", "Views", "Plays", "Impressions"}},
	{FieldChineseName, []string{"中文商品名", "中文标题", "chinese_name"}},
	{FieldScenario, []string{"场景用途", "使用场景", "usage_scenario"}},
}

var aliasLookup = buildAliasLookup(FieldAliases)

func buildAliasLookup(table []FieldAlias) map[string]string {
	m := make(map[string]string)
	for _, entry := range table {
		for _, alias := range entry.Aliases {
			if _, exists := m[alias]; exists {
				continue
			}
			m[alias] = entry.Canonical
		}
	}
	return m
}

// Canonicalize 表头 -> 规范字段名
func Canonicalize(rawHeader string) (string, bool) {
	c, ok := aliasLookup[NormalizeHeader(rawHeader)]
	return c, ok
}

// AliasesOf 规范字段的全部别名
func AliasesOf(canonical string) []string {
	for _, entry := range FieldAliases {
		if entry.Canonical == canonical {
			return entry.Aliases
		}
	}
	return nil
}

// applyAlias 将 raw 列的值追加到规范字段；规范字段已有值时不覆盖
func applyAlias(p *model.Product, rawHeader string, v model.Value) {
	canonical, ok := Canonicalize(rawHeader)
	if !ok || canonical == rawHeader {
		return
	}
	if p.Has(canonical) {
		return
	}
	p.Set(canonical, v)
}

// NormalizeProduct 对已有商品重新套用别名表，可重复执行
func NormalizeProduct(p *model.Product) {
	for _, key := range p.Keys() {
		v, _ := p.Get(key)
		applyAlias(p, key, v)
	}
}

// Lookup 先查规范字段，再依次查别名
func Lookup(p *model.Product, canonical string) (model.Value, bool) {
	if v, ok := p.Get(canonical); ok && !v.IsNull() {
		return v, true
	}
	for _, alias := range AliasesOf(canonical) {
		if v, ok := p.Get(alias); ok && !v.IsNull() {
			return v, true
		}
	}
	return model.Null(), false
}

// LookupText Lookup 的文本形式
func LookupText(p *model.Product, canonical string) string {
	v, _ := Lookup(p, canonical)
	return v.Text()
}

// DetectImageColumns 识别主图列：精确匹配 主图src / src，或表头包含 src；都没有时取第一列
func DetectImageColumns(headers []string) []int {
	var cols []int
	for i, h := range headers {
		if h == FieldImage || h == "src" || strings.Contains(strings.ToLower(h), "src") {
			cols = append(cols, i)
		}
	}
	if len(cols) == 0 && len(headers) > 0 {
		cols = []int{0}
	}
	return cols
}

// PrimaryImageColumn 主图列（DetectImageColumns 的第一项）
func PrimaryImageColumn(headers []string) int {
	cols := DetectImageColumns(headers)
	if len(cols) == 0 {
		return 0
	}
	return cols[0]
}

// imageSourceKeys 主图链接的候选字段
var imageSourceKeys = []string{FieldImage, "src", "_original_url_"}

// ImageSource 商品的主图链接（支持 <img src> 文本）
func ImageSource(p *model.Product) string {
	for _, key := range imageSourceKeys {
		if v, ok := Lookup(p, key); ok {
			if u := ExtractImageURL(v.Text()); u != "" {
				return u
			}
		}
	}
	return ""
}

// CategoryPath 由一二三级分类合成类目
func CategoryPath(p *model.Product) string {
	var parts []string
	for _, key := range categoryLevels {
		if v, ok := p.Get(key); ok && !v.IsBlank() {
			parts = append(parts, strings.TrimSpace(v.Text()))
		}
	}
	return strings.Join(parts, " > ")
}
