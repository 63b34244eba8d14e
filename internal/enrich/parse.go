package enrich

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	fencedArrayRe = regexp.MustCompile("```json\\s*(\\[[\\s\\S]*?\\])\\s*```")
	quoteReplacer = strings.NewReplacer(`"`, "", `'`, "", "“", "", "”", "")
)

// ParseSummaries 从模型回复中提取 JSON 数组：直接解析 → ```json 代码块 → 从后向前扫描方括号
func ParseSummaries(text string) ([]Summary, error) {
	text = strings.TrimSpace(text)

	if out, ok := decodeArray(text); ok {
		return out, nil
	}

	if m := fencedArrayRe.FindStringSubmatch(text); m != nil {
		if out, ok := decodeArray(m[1]); ok {
			return out, nil
		}
	}

	if end := strings.LastIndex(text, "]"); end >= 0 {
		for start := strings.LastIndex(text[:end], "["); start >= 0; start = strings.LastIndex(text[:start], "[") {
			if out, ok := decodeArray(text[start : end+1]); ok {
				return out, nil
			}
		}
	}

	return nil, fmt.Errorf("no json array in response")
}

func decodeArray(text string) ([]Summary, bool) {
	var raw []map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, false
	}

	out := make([]Summary, len(raw))
	for i, item := range raw {
		out[i] = Summary{
			Name:     cleanField(item["name"]),
			Scenario: cleanField(item["scenario"]),
		}
	}
	return out, true
}

// cleanField 转为字符串并去掉引号
func cleanField(v any) string {
	if v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	return strings.TrimSpace(quoteReplacer.Replace(s))
}
