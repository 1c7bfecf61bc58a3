package httputil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"risklock/internal/config"
)

// RetryConfig 控制指数退避重试。
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetry 为未配置时使用的重试参数。
var DefaultRetry = RetryConfig{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	MaxDelay:    10 * time.Second,
}

// FromConfig 由配置项构造重试参数，缺省值回落到 DefaultRetry。
func FromConfig(cfg config.RetryConfig) RetryConfig {
	out := RetryConfig{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.MinDelay,
		MaxDelay:    cfg.MaxDelay,
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = DefaultRetry.MaxAttempts
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = DefaultRetry.BaseDelay
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = DefaultRetry.MaxDelay
	}
	return out
}

// Do 以指数退避执行 HTTP 请求。每次尝试都会调用 buildReq 生成新请求，
// 5xx 与 429 视为可重试，其余状态码直接返回给调用方。
func Do(ctx context.Context, client *http.Client, cfg RetryConfig, logger *zap.Logger, buildReq func() (*http.Request, error)) (*http.Response, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRetry.MaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("httputil: 构造请求失败: %w", err)
		}

		resp, err := client.Do(req)
		if err == nil && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		wait := delay
		if cfg.MaxDelay > 0 && wait > cfg.MaxDelay {
			wait = cfg.MaxDelay
		}

		logger.Warn("HTTP 请求失败，等待重试",
			zap.String("url", req.URL.Redacted()),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("wait", wait),
			zap.Error(lastErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return nil, fmt.Errorf("httputil: %d 次尝试均失败: %w", cfg.MaxAttempts, lastErr)
}
