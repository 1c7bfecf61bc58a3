package broker

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"risklock/internal/config"
)

// 支持的数据源类型。
const (
	KindMock    = "mock"
	KindMT5     = "mt5"
	KindMetaAPI = "metaapi"
	KindCCXT    = "ccxt"
)

// NewProvider 按账户配置的数据源类型创建 Provider，未知类型立即报错。
func NewProvider(kind, externalID string, cfg config.BrokerConfig, logger *zap.Logger) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindMock, KindMT5:
		return NewMockBridge(cfg.Mock.Balance, cfg.Mock.DemoMode, uint64(time.Now().UnixNano())), nil
	case KindMetaAPI:
		return NewMetaAPI(cfg.MetaAPI, externalID, logger)
	case KindCCXT:
		return NewCCXT(cfg.CCXT, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, kind)
	}
}

// NewConnectorFor 创建 Provider 并包装为 Connector。
func NewConnectorFor(kind, externalID string, cfg config.BrokerConfig, logger *zap.Logger) (*Connector, error) {
	provider, err := NewProvider(kind, externalID, cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewConnector(provider, Options{
		ConnectTimeout: cfg.ConnectTimeout,
		FetchTimeout:   cfg.FetchTimeout,
	}, logger), nil
}
