package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// 保留字段
const (
	IndexKey    = "_index"
	ImageURLKey = "_image_url"
)

// ValueKind 单元格值类型
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
)

// Value 商品字段值：null / 字符串 / 数字
type Value struct {
	kind ValueKind
	str  string
	num  float64
}

// Null 空值
func Null() Value { return Value{} }

// String 字符串值
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number 数字值
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Kind 返回值类型
func (v Value) Kind() ValueKind { return v.kind }

// IsNull 是否为空值
func (v Value) IsNull() bool { return v.kind == KindNull }

// Float 返回数字值
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// Text 返回文本形式，数字按最短格式输出，空值为空串
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	default:
		return ""
	}
}

// IsBlank 是否为空白（null 或仅空白字符）
func (v Value) IsBlank() bool {
	return strings.TrimSpace(v.Text()) == ""
}

func (v Value) String() string { return v.Text() }

// MarshalJSON 实现 json.Marshaler
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON 实现 json.Unmarshaler，布尔值按文本保存
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*v = Null()
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case 't', 'f':
		*v = String(string(data))
	case '{', '[':
		*v = String(string(data))
	default:
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("invalid value %s: %w", data, err)
		}
		*v = Number(f)
	}
	return nil
}

// Product 商品记录：保持列顺序的 key -> Value 映射
type Product struct {
	Index    int
	ImageURL string

	keys   []string
	values map[string]Value
}

// NewProduct 创建商品记录
func NewProduct(index int) *Product {
	return &Product{
		Index:  index,
		values: make(map[string]Value),
	}
}

// Set 设置字段，新字段追加在末尾
func (p *Product) Set(key string, v Value) {
	if p.values == nil {
		p.values = make(map[string]Value)
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = v
}

// Get 读取字段
func (p *Product) Get(key string) (Value, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Has 字段是否存在
func (p *Product) Has(key string) bool {
	_, ok := p.values[key]
	return ok
}

// Text 读取字段的文本形式
func (p *Product) Text(key string) string {
	return p.values[key].Text()
}

// Delete 删除字段
func (p *Product) Delete(key string) {
	if _, ok := p.values[key]; !ok {
		return
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

// Keys 按插入顺序返回字段名
func (p *Product) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len 字段数量
func (p *Product) Len() int { return len(p.keys) }

// Clone 深拷贝
func (p *Product) Clone() *Product {
	c := NewProduct(p.Index)
	c.ImageURL = p.ImageURL
	for _, k := range p.keys {
		c.Set(k, p.values[k])
	}
	return c
}

// MarshalJSON 输出 {"_index":N, ...字段..., "_image_url":...}
func (p *Product) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	fmt.Fprintf(&buf, "%q:%d", IndexKey, p.Index)
	for _, k := range p.keys {
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := p.values[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	if p.ImageURL != "" {
		vb, err := json.Marshal(p.ImageURL)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&buf, ",%q:", ImageURLKey)
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON 按对象中出现的顺序还原字段
func (p *Product) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("product must be a JSON object")
	}

	*p = Product{values: make(map[string]Value)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected key token %v", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("decode %q: %w", key, err)
		}

		switch key {
		case IndexKey:
			var v Value
			if err := v.UnmarshalJSON(raw); err != nil {
				return fmt.Errorf("decode %s: %w", IndexKey, err)
			}
			if f, ok := v.Float(); ok {
				p.Index = int(f)
			} else if n, err := strconv.Atoi(strings.TrimSpace(v.Text())); err == nil {
				p.Index = n
			}
		case ImageURLKey:
			var v Value
			if err := v.UnmarshalJSON(raw); err != nil {
				return err
			}
			p.ImageURL = v.Text()
		default:
			var v Value
			if err := v.UnmarshalJSON(raw); err != nil {
				return err
			}
			p.Set(key, v)
		}
	}

	_, err = dec.Token()
	return err
}

// IsInternalKey 以 "_" 开头的内部字段不参与导出
func IsInternalKey(key string) bool {
	return strings.HasPrefix(key, "_")
}

// Indexes 收集 _index 集合
func Indexes(products []*Product) map[int]struct{} {
	set := make(map[int]struct{}, len(products))
	for _, p := range products {
		set[p.Index] = struct{}{}
	}
	return set
}
