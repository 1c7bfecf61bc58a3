// Package app 组装各组件并驱动账户巡检循环。
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"risklock/internal/account"
	"risklock/internal/behavior"
	"risklock/internal/broker"
	"risklock/internal/coach"
	"risklock/internal/config"
	"risklock/internal/monitor"
	"risklock/internal/notify"
	"risklock/internal/observability"
	"risklock/internal/portfolio"
	"risklock/internal/risk"
	"risklock/internal/storage"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      storage.Store
	metrics    *observability.Metrics
	monitor    *monitor.Service
	dispatcher *notify.Dispatcher
	orch       *orchestrator
}

// Option 配置 App。
type Option func(*options)

type options struct {
	connectors ConnectorFactory
	email      notify.Channel
	chat       notify.Channel
	channelsOK bool
	coach      Coach
	clock      func() time.Time
}

// WithConnectorFactory 替换连接器创建方式。
func WithConnectorFactory(f ConnectorFactory) Option {
	return func(o *options) { o.connectors = f }
}

// WithChannels 替换告警通道。
func WithChannels(email, chat notify.Channel) Option {
	return func(o *options) {
		o.email = email
		o.chat = chat
		o.channelsOK = true
	}
}

// WithCoach 替换点评生成器。
func WithCoach(c Coach) Option {
	return func(o *options) { o.coach = c }
}

// WithClock 替换时钟，用于测试。
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store storage.Store, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: 配置不能为空")
	}
	if store == nil {
		return nil, errors.New("app: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := options{
		clock: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.connectors == nil {
		o.connectors = func(acct account.Account) (*broker.Connector, error) {
			return broker.NewConnectorFor(acct.Provider, acct.ExternalID, cfg.Broker, logger)
		}
	}
	if !o.channelsOK {
		chat, err := notify.NewChatChannel(cfg.Notify.Chat, logger)
		if err != nil {
			return nil, err
		}
		o.email = notify.NewEmailChannel(cfg.Notify.Email, logger)
		o.chat = chat
	}
	if o.coach == nil && cfg.Coach.Enabled {
		client, err := coach.NewClient(cfg.Coach, logger)
		if err != nil {
			return nil, fmt.Errorf("初始化点评客户端失败: %w", err)
		}
		o.coach = client
	}

	metrics := observability.NewMetrics()

	monitorSvc, err := monitor.NewService(store, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化监控服务失败: %w", err)
	}

	dispatcher := notify.NewDispatcher(store, o.email, o.chat, cfg.Notify, logger,
		notify.WithDispatcherMetrics(metrics),
		notify.WithDispatcherClock(o.clock),
	)

	evaluator := risk.NewEvaluator(cfg.Risk, logger,
		risk.WithLedger(store),
		risk.WithNotifier(dispatcher),
		risk.WithMetrics(metrics),
		risk.WithClock(o.clock),
	)

	concurrency := cfg.Scheduler.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		metrics:    metrics,
		monitor:    monitorSvc,
		dispatcher: dispatcher,
		orch: &orchestrator{
			store:        store,
			evaluator:    evaluator,
			analyzer:     behavior.NewAnalyzer(cfg.Behavior, o.clock),
			coach:        o.coach,
			monitor:      monitorSvc,
			metrics:      metrics,
			newConnector: o.connectors,
			concurrency:  concurrency,
			exposureLots: cfg.Portfolio.ExposureWarningLots,
			clock:        o.clock,
			logger:       logger,
			connectors:   make(map[int64]*broker.Connector),
		},
	}, nil
}

// Metrics 返回应用指标。
func (a *App) Metrics() *observability.Metrics {
	return a.metrics
}

// Monitor 返回监控服务。
func (a *App) Monitor() *monitor.Service {
	return a.monitor
}

// EvaluateAccount 对单个账户执行一次评估，并等待由此触发的告警投递结束。
func (a *App) EvaluateAccount(ctx context.Context, id int64) (Evaluation, error) {
	acct, err := a.store.GetAccount(ctx, id)
	if err != nil {
		return Evaluation{}, fmt.Errorf("app: 读取账户 %d 失败: %w", id, err)
	}
	eval, err := a.orch.EvaluateAccount(ctx, acct)
	a.dispatcher.Wait()
	return eval, err
}

// Tick 执行一轮全量巡检。
func (a *App) Tick(ctx context.Context) (portfolio.Summary, error) {
	return a.orch.Tick(ctx)
}

// Run 启动监控接口并按固定间隔巡检，直到 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("风控巡检已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("database", a.cfg.Database.Driver),
		zap.Duration("poll_interval", a.cfg.Scheduler.PollInterval),
	)
	defer a.dispatcher.Wait()

	if a.cfg.Monitor.Enabled {
		if err := startMonitorServer(ctx, a.monitor, a.metrics, a.cfg.Monitor.Port, a.logger); err != nil {
			return err
		}
	}

	interval := a.cfg.Scheduler.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	if _, err := a.orch.Tick(ctx); err != nil {
		a.logger.Error("首次巡检失败", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("系统收到退出信号，正在停止")
			return nil
		case <-ticker.C:
			if _, err := a.orch.Tick(ctx); err != nil {
				a.logger.Error("执行巡检失败", zap.Error(err))
			}
		}
	}
}
