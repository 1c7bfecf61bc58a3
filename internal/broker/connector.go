package broker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Provider 是账户数据源的只读能力集合。
type Provider interface {
	Name() string
	Connect(ctx context.Context) error
	AccountInfo(ctx context.Context) (AccountSnapshot, error)
	Trades(ctx context.Context) ([]Trade, error)
}

// Options 控制连接器的超时。
type Options struct {
	ConnectTimeout time.Duration
	FetchTimeout   time.Duration
}

// Connector 包装 Provider，负责超时、降级与同步状态；执行类操作一律拒绝。
type Connector struct {
	provider Provider
	opts     Options
	logger   *zap.Logger
	now      func() time.Time

	mu         sync.RWMutex
	connected  bool
	lastSync   time.Time
	confidence ConfidenceStatus
}

// NewConnector 创建连接器，初始可信度为 PAUSED。
func NewConnector(provider Provider, opts Options, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 15 * time.Second
	}
	return &Connector{
		provider:   provider,
		opts:       opts,
		logger:     logger.With(zap.String("provider", provider.Name())),
		now:        func() time.Time { return time.Now().UTC() },
		confidence: ConfidencePaused,
	}
}

// Name 返回底层数据源名称。
func (c *Connector) Name() string {
	return c.provider.Name()
}

// Connect 建立连接，失败时按错误类型降级并返回 false。
func (c *Connector) Connect(ctx context.Context) bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	if connected {
		return true
	}

	connectCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	if err := c.provider.Connect(connectCtx); err != nil {
		c.markFailure("连接数据源失败", err)
		return false
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.markSuccess()
	return true
}

// AccountInfo 获取账户快照，失败时返回零值兜底快照。
func (c *Connector) AccountInfo(ctx context.Context) AccountSnapshot {
	if !c.Connect(ctx) {
		return FallbackSnapshot()
	}
	snapshot, err := c.fetchInfo(ctx)
	if err != nil {
		c.markFailure("获取账户信息失败", err)
		return FallbackSnapshot()
	}
	c.markSuccess()
	return snapshot
}

// Trades 获取当前持仓，失败时返回空列表。
func (c *Connector) Trades(ctx context.Context) []Trade {
	if !c.Connect(ctx) {
		return []Trade{}
	}
	trades, err := c.fetchTrades(ctx)
	if err != nil {
		c.markFailure("获取持仓失败", err)
		return []Trade{}
	}
	c.markSuccess()
	return trades
}

// Snapshot 并发获取账户快照与持仓，两者都结束后按较差的结果更新可信度。
func (c *Connector) Snapshot(ctx context.Context) (AccountSnapshot, []Trade) {
	if !c.Connect(ctx) {
		return FallbackSnapshot(), []Trade{}
	}

	var (
		snapshot           AccountSnapshot
		trades             []Trade
		infoErr, tradesErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		snapshot, infoErr = c.fetchInfo(gctx)
		return nil
	})
	g.Go(func() error {
		trades, tradesErr = c.fetchTrades(gctx)
		return nil
	})
	_ = g.Wait()

	if infoErr != nil {
		snapshot = FallbackSnapshot()
	}
	if tradesErr != nil {
		trades = []Trade{}
	}
	if infoErr != nil || tradesErr != nil {
		c.markFailure("获取账户数据失败", infoErr, tradesErr)
	} else {
		c.markSuccess()
	}
	return snapshot, trades
}

func (c *Connector) fetchInfo(ctx context.Context) (AccountSnapshot, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	defer cancel()
	return c.provider.AccountInfo(fetchCtx)
}

func (c *Connector) fetchTrades(ctx context.Context) ([]Trade, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	defer cancel()

	trades, err := c.provider.Trades(fetchCtx)
	if err != nil {
		return nil, err
	}
	if trades == nil {
		trades = []Trade{}
	}
	return trades, nil
}

// LastSync 返回最近一次成功同步的时间。
func (c *Connector) LastSync() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSync, !c.lastSync.IsZero()
}

// ConfidenceStatus 返回当前数据可信度。
func (c *Connector) ConfidenceStatus() ConfidenceStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.confidence
}

// SyncStatus 返回可序列化的同步状态。
func (c *Connector) SyncStatus() SyncStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	status := SyncStatus{Provider: c.provider.Name(), Confidence: c.confidence}
	if !c.lastSync.IsZero() {
		ts := c.lastSync
		status.LastSync = &ts
	}
	return status
}

// PlaceOrder 永远拒绝。
func (c *Connector) PlaceOrder(context.Context, ...any) error {
	return ErrReadOnly
}

// ModifyOrder 永远拒绝。
func (c *Connector) ModifyOrder(context.Context, ...any) error {
	return ErrReadOnly
}

// ClosePosition 永远拒绝。
func (c *Connector) ClosePosition(context.Context, ...any) error {
	return ErrReadOnly
}

func (c *Connector) markSuccess() {
	c.mu.Lock()
	c.confidence = ConfidenceLive
	c.lastSync = c.now()
	c.mu.Unlock()
}

// markFailure 取多个错误中最差的可信度：STALE 优先于 DEGRADED。
func (c *Connector) markFailure(msg string, errs ...error) {
	status := ConfidenceLive
	for _, err := range errs {
		if err == nil {
			continue
		}
		if s := confidenceFor(err); status != ConfidenceStale {
			status = s
		}
	}

	c.mu.Lock()
	c.confidence = status
	if status == ConfidenceStale {
		c.connected = false
	}
	c.mu.Unlock()

	c.logger.Warn(msg, zap.String("confidence", string(status)), zap.Error(multierr.Combine(errs...)))
}
