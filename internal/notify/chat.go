package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"risklock/internal/config"
	"risklock/internal/httputil"
)

// NewChatChannel 按配置创建聊天通道，kind 为空时返回 nil。
func NewChatChannel(cfg config.ChatConfig, logger *zap.Logger) (Channel, error) {
	switch strings.ToLower(cfg.Kind) {
	case "":
		return nil, nil
	case "telegram":
		return NewTelegramChannel(cfg, logger), nil
	case "webhook":
		return NewWebhookChannel(cfg, logger), nil
	default:
		return nil, fmt.Errorf("notify: 不支持的聊天通道 %q", cfg.Kind)
	}
}

func httpClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func postJSON(ctx context.Context, client *http.Client, retry httputil.RetryConfig, logger *zap.Logger, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: 序列化消息失败: %w", err)
	}
	resp, err := httputil.Do(ctx, client, retry, logger, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notify: HTTP %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}

// TelegramChannel 通过 Bot API 的 sendMessage 发送告警，target 为 chat id。
type TelegramChannel struct {
	apiURL string
	token  string
	client *http.Client
	retry  httputil.RetryConfig
	logger *zap.Logger
}

// NewTelegramChannel 创建 Telegram 通道。
func NewTelegramChannel(cfg config.ChatConfig, logger *zap.Logger) *TelegramChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}
	return &TelegramChannel{
		apiURL: apiURL,
		token:  cfg.BotToken,
		client: httpClient(cfg.Timeout),
		retry:  httputil.FromConfig(cfg.Retry),
		logger: logger,
	}
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Send(ctx context.Context, chatID string, alert Alert) error {
	if c.token == "" {
		return fmt.Errorf("notify: 未配置 Telegram bot token")
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", c.apiURL, c.token)
	return postJSON(ctx, c.client, c.retry, c.logger, url, map[string]string{
		"chat_id":    chatID,
		"text":       alert.ChatText(),
		"parse_mode": "Markdown",
	})
}

// WebhookChannel 向 Slack 或 Discord 的 incoming webhook 发送告警，target 为 webhook 地址。
type WebhookChannel struct {
	botName string
	client  *http.Client
	retry   httputil.RetryConfig
	logger  *zap.Logger
}

// NewWebhookChannel 创建 webhook 通道。
func NewWebhookChannel(cfg config.ChatConfig, logger *zap.Logger) *WebhookChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.BotName
	if name == "" {
		name = "RiskLock"
	}
	return &WebhookChannel{
		botName: name,
		client:  httpClient(cfg.Timeout),
		retry:   httputil.FromConfig(cfg.Retry),
		logger:  logger,
	}
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Send(ctx context.Context, url string, alert Alert) error {
	return postJSON(ctx, c.client, c.retry, c.logger, url, c.payload(url, alert))
}

// payload 地址包含 discord 时使用 Discord 格式，否则使用 Slack 格式。
func (c *WebhookChannel) payload(url string, alert Alert) map[string]string {
	if strings.Contains(url, "discord") {
		return map[string]string{
			"content":  alert.ChatText(),
			"username": c.botName,
		}
	}
	return map[string]string{
		"text":     alert.ChatText(),
		"username": c.botName,
	}
}
