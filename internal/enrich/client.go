// Package enrich 通过 OpenAI 兼容接口为商品标题生成中文商品名与场景用途
package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Ganzhe0906/ty-productselect/internal/apperr"
	"github.com/Ganzhe0906/ty-productselect/internal/config"
)

// 默认值
const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultModel   = "gemini-2.0-flash"
	pingTitle      = "Stainless Steel Water Bottle 500ml"
)

// Summary 单个标题的总结结果
type Summary struct {
	Name     string `json:"name"`
	Scenario string `json:"scenario"`
}

// Credentials 单次调用的凭据，空字段使用配置默认值
type Credentials struct {
	APIKey  string `json:"apiKey"`
	Model   string `json:"model"`
	BaseURL string `json:"baseUrl,omitempty"`
}

// Summarizer 批量总结接口
type Summarizer interface {
	SummarizeBatch(ctx context.Context, titles []string, creds Credentials) ([]Summary, error)
}

// chatAPI go-openai 客户端中用到的部分
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client 大模型客户端
type Client struct {
	cfg     config.LLMConfig
	timeout time.Duration
	limiter *rate.Limiter
	newAPI  func(Credentials) chatAPI
	logger  *zap.Logger
}

var _ Summarizer = (*Client)(nil)

// NewClient 创建客户端；RatePerMinute <= 0 时不限速
func NewClient(cfg config.LLMConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerMinute > 0 {
		// 次/分钟 -> 次/秒
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), 1)
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		cfg:     cfg,
		timeout: timeout,
		limiter: limiter,
		newAPI:  newOpenAIClient,
		logger:  logger,
	}
}

func newOpenAIClient(creds Credentials) chatAPI {
	cfg := openai.DefaultConfig(creds.APIKey)
	if creds.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(creds.BaseURL, "/")
	}
	return openai.NewClientWithConfig(cfg)
}

// resolve 补全凭据
func (c *Client) resolve(creds Credentials) Credentials {
	if strings.TrimSpace(creds.APIKey) == "" {
		creds.APIKey = c.cfg.APIKey
	}
	if strings.TrimSpace(creds.Model) == "" {
		creds.Model = c.cfg.Model
	}
	if creds.Model == "" {
		creds.Model = DefaultModel
	}
	if strings.TrimSpace(creds.BaseURL) == "" {
		creds.BaseURL = c.cfg.BaseURL
	}
	if creds.BaseURL == "" {
		creds.BaseURL = DefaultBaseURL
	}
	creds.APIKey = strings.TrimSpace(creds.APIKey)
	return creds
}

// HasKey 是否有可用的 API Key
func (c *Client) HasKey(creds Credentials) bool {
	return c.resolve(creds).APIKey != ""
}

// SummarizeBatch 一次请求总结一组标题；结果为空或数量不符视为失败
func (c *Client) SummarizeBatch(ctx context.Context, titles []string, creds Credentials) ([]Summary, error) {
	if len(titles) == 0 {
		return []Summary{}, nil
	}
	creds = c.resolve(creds)
	if creds.APIKey == "" {
		return nil, apperr.New(apperr.CodeEnrichmentFailed, "缺少 API Key")
	}

	text, err := c.complete(ctx, creds, BuildPrompt(titles))
	if err != nil {
		return nil, err
	}

	summaries, err := ParseSummaries(text)
	if err != nil {
		c.logger.Warn("AI 响应解析失败", zap.Error(err), zap.String("raw", truncate(text, 500)))
		return nil, apperr.Wrap(apperr.CodeEnrichmentFailed, err, "AI 响应解析失败")
	}
	if len(summaries) == 0 {
		return nil, apperr.New(apperr.CodeEnrichmentFailed, "AI 总结返回结果为空，请检查 API Key 是否有效或网络是否通畅")
	}
	if len(summaries) != len(titles) {
		return nil, apperr.New(apperr.CodeEnrichmentFailed,
			fmt.Sprintf("AI 返回数量不符: 期望 %d，实际 %d", len(titles), len(summaries)))
	}
	return summaries, nil
}

func (c *Client) complete(ctx context.Context, creds Credentials, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", apperr.Wrap(apperr.CodeEnrichmentFailed, err, "等待限流失败")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.newAPI(creds).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: creds.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		c.logger.Error("LLM 请求失败",
			zap.String("model", creds.Model),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return "", apperr.Wrap(apperr.CodeEnrichmentFailed, err, "AI 请求失败")
	}
	if len(resp.Choices) == 0 {
		return "", apperr.New(apperr.CodeEnrichmentFailed, "AI 未返回结果")
	}

	c.logger.Debug("LLM 请求完成",
		zap.String("model", creds.Model),
		zap.Duration("duration", time.Since(start)))
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// DebugStep 连接测试步骤
type DebugStep struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // success | error
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// DebugResult 连接测试结果
type DebugResult struct {
	Steps       []DebugStep `json:"steps"`
	Success     bool        `json:"success"`
	FinalResult *Summary    `json:"finalResult,omitempty"`
	Error       string      `json:"error,omitempty"`
}

func (r *DebugResult) step(name, status, message string, data any) {
	r.Steps = append(r.Steps, DebugStep{
		Name:      name,
		Status:    status,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

// Ping 用一个示例标题测试连接，记录每一步
func (c *Client) Ping(ctx context.Context, creds Credentials) *DebugResult {
	creds = c.resolve(creds)
	res := &DebugResult{}
	res.step("初始化", "success", fmt.Sprintf("开始测试连接 (Model: %s)", creds.Model), nil)

	if creds.APIKey == "" {
		res.step("发生错误", "error", "缺少 API Key", nil)
		res.Error = "API Key is missing"
		return res
	}

	prompt := BuildPrompt([]string{pingTitle})
	res.step("Prompt生成", "success", "已生成提示词", map[string]any{"promptPreview": truncate(prompt, 100) + "..."})

	start := time.Now()
	text, err := c.complete(ctx, creds, prompt)
	if err != nil {
		res.step("发生错误", "error", err.Error(), nil)
		res.Error = apperr.Message(err)
		return res
	}
	res.step("接收响应", "success", fmt.Sprintf("收到 API 响应 (%dms)", time.Since(start).Milliseconds()),
		map[string]any{"rawLength": len(text), "rawText": text})

	summaries, err := ParseSummaries(text)
	if err != nil || len(summaries) == 0 {
		res.step("JSON解析", "error", "无法从响应中提取有效的 JSON 数组", map[string]any{"rawText": text})
		res.Error = "JSON Parsing Failed"
		return res
	}
	res.step("JSON解析", "success", "成功解析 JSON 结果", map[string]any{"result": summaries})
	res.Success = true
	res.FinalResult = &summaries[0]
	return res
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
