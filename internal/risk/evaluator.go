package risk

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"risklock/internal/account"
	"risklock/internal/broker"
	"risklock/internal/config"
	"risklock/internal/observability"
	"risklock/internal/storage"
)

// Notifier 接收告警请求，实现方不得阻塞调用方。
type Notifier interface {
	Notify(ctx context.Context, acct account.Account, status Status, violations []string, emailOnly bool)
}

// Input 是一次评估的输入。Rules 与 Account 可为空。
// Degraded 表示数据源不可信，此时只计算报告，不对账、不审计、不告警。
type Input struct {
	Snapshot broker.AccountSnapshot
	Stats    DailyStats
	Trades   []broker.Trade
	Rules    *account.RuleConfig
	Account  *account.Account
	Now      time.Time
	Degraded bool
}

// Metrics 是评估产出的指标。
type Metrics struct {
	DailyLoss       float64 `json:"daily_loss"`
	DailyLimit      float64 `json:"daily_limit"`
	OverallDrawdown float64 `json:"overall_drawdown"`
	OverallLimit    float64 `json:"overall_limit"`
	Buffer          float64 `json:"buffer"`
	BufferPct       float64 `json:"buffer_pct"`
	TradesToBreach  int     `json:"trades_to_breach"`
}

// Report 是风控评估结果，每次重新计算，不落库。
type Report struct {
	Status     Status         `json:"status"`
	Violations []string       `json:"violations"`
	Metrics    Metrics        `json:"metrics"`
	Trades     []broker.Trade `json:"trades"`
}

// Option 配置 Evaluator。
type Option func(*Evaluator)

// WithLedger 启用持久化能力：持仓对账、规则快照与状态审计。
func WithLedger(ledger storage.Ledger) Option {
	return func(e *Evaluator) { e.ledger = ledger }
}

// WithNotifier 设置告警出口。
func WithNotifier(n Notifier) Option {
	return func(e *Evaluator) { e.notifier = n }
}

// WithMetrics 设置指标。
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// WithClock 替换时钟，用于测试。
func WithClock(clock func() time.Time) Option {
	return func(e *Evaluator) { e.clock = clock }
}

// Evaluator 根据账户快照与规则计算风控状态。
type Evaluator struct {
	cfg      config.RiskConfig
	ledger   storage.Ledger
	notifier Notifier
	metrics  *observability.Metrics
	clock    func() time.Time
	logger   *zap.Logger
}

// NewEvaluator 创建评估器，零值配置项使用默认阈值。
func NewEvaluator(cfg config.RiskConfig, logger *zap.Logger, opts ...Option) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Evaluator{
		cfg:    withDefaults(cfg),
		clock:  func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Persistent 表示是否启用了持久化能力。
func (e *Evaluator) Persistent() bool {
	return e.ledger != nil
}

func (e *Evaluator) persists(in Input) bool {
	return e.Persistent() && in.Account != nil && !in.Degraded
}

func withDefaults(cfg config.RiskConfig) config.RiskConfig {
	if cfg.DefaultDailyLossLimit == 0 {
		cfg.DefaultDailyLossLimit = 5000
	}
	if cfg.DefaultOverallLimit == 0 {
		cfg.DefaultOverallLimit = 10000
	}
	if cfg.DefaultMaxLotSize == 0 {
		cfg.DefaultMaxLotSize = 10
	}
	if cfg.WarningRatio == 0 {
		cfg.WarningRatio = 0.8
	}
	if cfg.CriticalRatio == 0 {
		cfg.CriticalRatio = 0.95
	}
	if cfg.DrawdownCriticalRatio == 0 {
		cfg.DrawdownCriticalRatio = 0.9
	}
	if cfg.TradesToBreachCap == 0 {
		cfg.TradesToBreachCap = 99
	}
	if cfg.NewTradeRiskScore == 0 {
		cfg.NewTradeRiskScore = 75
	}
	if cfg.OversizedRiskScore == 0 {
		cfg.OversizedRiskScore = 30
	}
	if cfg.HealthyRiskScore == 0 {
		cfg.HealthyRiskScore = 90
	}
	return cfg
}

type thresholds struct {
	daily   float64
	overall float64
	maxLot  float64
}

func (e *Evaluator) thresholds(balance float64, rules *account.RuleConfig) thresholds {
	if rules == nil {
		return thresholds{
			daily:   e.cfg.DefaultDailyLossLimit,
			overall: e.cfg.DefaultOverallLimit,
			maxLot:  e.cfg.DefaultMaxLotSize,
		}
	}
	return thresholds{
		daily:   balance * rules.DailyLossLimitPct / 100,
		overall: balance * rules.MaxDrawdownLimitPct / 100,
		maxLot:  rules.MaxLotSize,
	}
}

func (e *Evaluator) oversized(volume, maxLot float64) bool {
	return maxLot > 0 && volume > maxLot
}

// Evaluate 计算风控报告。持久化或告警失败都不会影响返回结果。
func (e *Evaluator) Evaluate(ctx context.Context, in Input) Report {
	started := e.clock()
	now := in.Now
	if now.IsZero() {
		now = started
	}

	th := e.thresholds(in.Snapshot.Balance, in.Rules)
	persist := e.persists(in)
	status := StatusSafe
	violations := make([]string, 0, 4)

	// 时段打标；手数校验只在可持久化时进行
	session := broker.SessionAt(now)
	trades := make([]broker.Trade, len(in.Trades))
	for i, t := range in.Trades {
		t.Session = session
		if !persist {
			trades[i] = t
			continue
		}
		if e.oversized(t.Volume, th.maxLot) {
			violations = append(violations, fmt.Sprintf("Excessive Lot Size: %v > %v", t.Volume, th.maxLot))
			status = status.Escalate(StatusWarning)
			t.RiskScore = e.cfg.OversizedRiskScore
		} else {
			t.RiskScore = e.cfg.HealthyRiskScore
		}
		trades[i] = t
	}

	// 日内亏损
	loss := -in.Stats.DailyProfit
	if th.daily > 0 {
		switch {
		case loss >= th.daily:
			violations = append(violations, fmt.Sprintf("Daily Loss Limit Breached: -$%.2f (Limit: $%.2f)", loss, th.daily))
			status = status.Escalate(StatusBreach)
		case loss >= th.daily*e.cfg.CriticalRatio:
			violations = append(violations, "CRITICAL: Near Daily Loss Limit")
			status = status.Escalate(StatusCritical)
		case loss >= th.daily*e.cfg.WarningRatio:
			violations = append(violations, "Warning: Approaching Daily Loss Limit")
			status = status.Escalate(StatusWarning)
		}
	}

	// 总回撤
	drawdown := math.Max(0, in.Snapshot.Balance-in.Snapshot.Equity)
	if th.overall > 0 {
		switch {
		case drawdown >= th.overall:
			violations = append(violations, fmt.Sprintf("Max Overall Loss Breached: -$%.2f", drawdown))
			status = status.Escalate(StatusBreach)
		case drawdown >= th.overall*e.cfg.DrawdownCriticalRatio:
			status = status.Escalate(StatusCritical)
		}
	}

	report := Report{
		Status:     status,
		Violations: violations,
		Metrics:    e.predict(loss, drawdown, in.Stats.TradesCount, th),
		Trades:     trades,
	}

	if persist {
		scores, err := e.reconcile(ctx, in, trades, th.maxLot, status, violations, now)
		if err != nil {
			e.metrics.RecordPersistFailure()
			e.logger.Warn("持仓对账失败，已回滚并使用内存结果",
				zap.Int64("account_id", in.Account.ID),
				zap.Error(err),
			)
		} else {
			for i := range report.Trades {
				report.Trades[i].RiskScore = scores[i]
			}
		}
	}

	if status.Alerting() && persist && in.Rules != nil && e.notifier != nil {
		msgs := append([]string(nil), violations...)
		e.notifier.Notify(ctx, *in.Account, status, msgs, in.Account.EmailOnly())
	}

	accountLabel := ""
	if in.Account != nil {
		accountLabel = strconv.FormatInt(in.Account.ID, 10)
	}
	e.metrics.RecordEvaluation(accountLabel, string(status), status.Severity(), len(violations), e.clock().Sub(started))

	if status != StatusSafe {
		e.logger.Info("风控评估完成",
			zap.String("status", string(status)),
			zap.Strings("violations", violations),
			zap.Float64("daily_loss", loss),
			zap.Float64("drawdown", drawdown),
		)
	}
	return report
}

func (e *Evaluator) predict(loss, drawdown float64, count int, th thresholds) Metrics {
	avg := 0.0
	if count > 0 && loss > 0 {
		avg = loss / float64(count)
	}
	buffer := math.Max(0, th.daily-loss)

	capped := e.cfg.TradesToBreachCap
	ttb := capped
	if avg > 0 {
		if n := math.Floor(buffer / avg); n < float64(capped) {
			ttb = int(n)
		}
	}

	bufferPct := 0.0
	if th.daily > 0 {
		bufferPct = buffer / th.daily * 100
	}

	return Metrics{
		DailyLoss:       loss,
		DailyLimit:      th.daily,
		OverallDrawdown: drawdown,
		OverallLimit:    th.overall,
		Buffer:          buffer,
		BufferPct:       bufferPct,
		TradesToBreach:  ttb,
	}
}
