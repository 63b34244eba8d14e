package enrich

import (
	"fmt"
	"strings"
)

// BuildPrompt 生成批量总结提示词
func BuildPrompt(titles []string) string {
	var list strings.Builder
	for i, t := range titles {
		if i > 0 {
			list.WriteByte('\n')
		}
		fmt.Fprintf(&list, "%d. %s", i+1, t)
	}

	return `你是一个拥有10年经验的顶级跨境电商选品与市场专家。你的任务是阅读一组英文商品标题，精准提取核心卖点，并将其转化为高度符合中国选品习惯、且能瞬间抓住眼球的中文商品名与场景用途。

**核心目标：**
1. 彻底剔除所有“废话”（促销词、规格词、品牌名）。
2. 将生涩的英文翻译为地道、专业的中文选品词汇。
3. 严禁直接翻译，必须基于产品属性进行“二次创作”和“逻辑推理”。

**处理规则：**

1. **中文商品名 (name)**：
   - **绝对禁令**：严禁出现任何英文字母、数字（除非是型号如 4K, 5G）或特殊符号。
   - **风格要求**：极其精炼。格式通常为“核心属性/核心人群 + 产品核心词”。
   - **剔除内容**：必须剔除 New, Hot Sale, Best Gift, 2024/2025, 8x10 inch, 52 Cards 等一切促销词和无用规格。
   - **字数限制**：10个汉字以内。

2. **场景用途 (scenario)**：
   - **深度推理**：不要只看字面意思。如果标题有 "Sensory", "Stress Relief"，场景应是“儿童感官开发”或“办公室解压解闷”。
   - **拒绝平庸**：严禁使用“通用场景”、“日常使用”等模糊词汇。
   - **具体化**：必须给出具体的“人群+动作”或“节日+对象”。例如：“情侣纪念日惊喜”、“自闭症儿童康复训练”、“露营派对活跃气氛”。
   - **字数限制**：15个汉字以内。

**优质示例 (学习模板)：**
- 输入: "New Interactive Elephant Toy for Toddlers" -> 输出: {"name": "幼儿大象互动玩具", "scenario": "幼儿感官开发/亲子互动"}
- 输入: "Luna Bean Original Hand Casting Kit - Hand Mold Kit for Couples" -> 输出: {"name": "情侣手模DIY套装", "scenario": "周年纪念日/情人节手工礼品"}
- 输入: "NeeDoh Good Vibes Squishy Stress Ball with Messages" -> 输出: {"name": "正能量解压捏捏乐", "scenario": "办公室解压/情绪调节"}

**返回格式要求：**
- 必须返回一个标准的 JSON 数组，包含 ` + fmt.Sprint(len(titles)) + ` 个对象，顺序与标题列表一致。
- 每个对象必须包含 "name" 和 "scenario" 两个字段。
- **严禁包含任何文字说明、Markdown 标签或思考过程，仅返回原始 JSON。**

**待处理标题列表：**
` + list.String()
}
