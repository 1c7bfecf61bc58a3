package broker

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrReadOnly 表示系统只读，任何下单、改单、平仓请求都会被拒绝。
	ErrReadOnly = errors.New("broker: risklock is read-only by design, execution is not supported")

	// ErrUnsupportedProvider 表示账户配置了未知的数据源。
	ErrUnsupportedProvider = errors.New("broker: unsupported provider")

	// ErrDegraded 表示上游可达但状态异常，数据可信度降级。
	ErrDegraded = errors.New("broker: upstream degraded")
)

// confidenceFor 将上游错误映射为可信度：超时或降级视为 DEGRADED，其余为 STALE。
func confidenceFor(err error) ConfidenceStatus {
	var netErr net.Error
	switch {
	case err == nil:
		return ConfidenceLive
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrDegraded):
		return ConfidenceDegraded
	case errors.As(err, &netErr) && netErr.Timeout():
		return ConfidenceDegraded
	default:
		return ConfidenceStale
	}
}
