// Package coach 调用大模型为行为报告生成纪律点评，仅作为报告的附加说明。
package coach

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"risklock/internal/behavior"
	"risklock/internal/config"
	"risklock/internal/risk"
)

const maxNoteLen = 600

// Client 封装 OpenAI 调用逻辑。
type Client struct {
	cfg    config.CoachConfig
	logger *zap.Logger
	sdk    *openai.Client
}

// NewClient 使用给定配置创建点评客户端。
func NewClient(cfg config.CoachConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("coach: api_key 不能为空")
	}
	if cfg.Model == "" {
		return nil, errors.New("coach: model 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sdkCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkCfg.BaseURL = cfg.BaseURL
	}
	sdkCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout + 5*time.Second}

	return &Client{
		cfg:    cfg,
		logger: logger,
		sdk:    openai.NewClientWithConfig(sdkCfg),
	}, nil
}

// Note 生成一段点评，超时由配置控制。
func (c *Client) Note(ctx context.Context, report risk.Report, insights behavior.Report) (string, error) {
	prompt, err := BuildPrompt(report, insights)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	response, err := c.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("coach: 调用模型失败: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", errors.New("coach: 模型返回结果为空")
	}

	note := strings.TrimSpace(response.Choices[0].Message.Content)
	if note == "" {
		return "", errors.New("coach: 模型返回内容为空")
	}
	if r := []rune(note); len(r) > maxNoteLen {
		note = string(r[:maxNoteLen])
	}

	c.logger.Debug("行为点评生成成功", zap.Int("length", len(note)))
	return note, nil
}
