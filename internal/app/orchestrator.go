package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"risklock/internal/account"
	"risklock/internal/behavior"
	"risklock/internal/broker"
	"risklock/internal/monitor"
	"risklock/internal/observability"
	"risklock/internal/portfolio"
	"risklock/internal/risk"
	"risklock/internal/storage"
)

// ErrUnavailable 表示数据源本轮未能提供可信数据，该账户不计入组合汇总。
var ErrUnavailable = errors.New("app: 数据源不可用")

// ConnectorFactory 为账户创建连接器。
type ConnectorFactory func(acct account.Account) (*broker.Connector, error)

// Coach 为评估结果生成点评。
type Coach interface {
	Note(ctx context.Context, report risk.Report, insights behavior.Report) (string, error)
}

// Evaluation 是单个账户一次巡检的完整结果。
type Evaluation struct {
	Account    account.Account        `json:"account"`
	Snapshot   broker.AccountSnapshot `json:"snapshot"`
	DailyStats risk.DailyStats        `json:"daily_stats"`
	Risk       risk.Report            `json:"risk"`
	Behavior   behavior.Report        `json:"intelligence"`
	Sync       broker.SyncStatus      `json:"sync_status"`
}

type orchestrator struct {
	store        storage.Store
	evaluator    *risk.Evaluator
	analyzer     *behavior.Analyzer
	coach        Coach
	monitor      *monitor.Service
	metrics      *observability.Metrics
	newConnector ConnectorFactory
	concurrency  int
	exposureLots float64
	clock        func() time.Time
	logger       *zap.Logger

	mu         sync.Mutex
	connectors map[int64]*broker.Connector
}

func (o *orchestrator) connector(acct account.Account) (*broker.Connector, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if conn, ok := o.connectors[acct.ID]; ok {
		return conn, nil
	}
	conn, err := o.newConnector(acct)
	if err != nil {
		return nil, fmt.Errorf("app: 创建账户 %d 的连接器失败: %w", acct.ID, err)
	}
	o.connectors[acct.ID] = conn
	return conn, nil
}

// prune 释放已不在巡检列表中的连接器。
func (o *orchestrator) prune(active []account.Account) {
	keep := make(map[int64]struct{}, len(active))
	for _, acct := range active {
		keep[acct.ID] = struct{}{}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for id := range o.connectors {
		if _, ok := keep[id]; !ok {
			delete(o.connectors, id)
		}
	}
}

// EvaluateAccount 拉取账户数据并完成一次风控与行为评估。
func (o *orchestrator) EvaluateAccount(ctx context.Context, acct account.Account) (Evaluation, error) {
	log := o.logger.With(zap.Int64("account_id", acct.ID), zap.String("provider", acct.Provider))

	conn, err := o.connector(acct)
	if err != nil {
		o.monitor.RecordError(ctx, "创建连接器失败", err, map[string]interface{}{"account_id": acct.ID})
		return Evaluation{}, err
	}

	snapshot, trades := conn.Snapshot(ctx)
	syncStatus := conn.SyncStatus()
	live := syncStatus.Confidence == broker.ConfidenceLive
	if !live {
		o.metrics.RecordFetchFailure(syncStatus.Provider, string(syncStatus.Confidence))
		o.monitor.RecordSync(ctx, acct.ID, syncStatus)
		log.Warn("数据源不可信，本轮按兜底数据评估且不落库", zap.String("confidence", string(syncStatus.Confidence)))
	}

	now := o.clock()
	stats := risk.ComputeDailyStats(trades)
	rules := acct.Rules
	report := o.evaluator.Evaluate(ctx, risk.Input{
		Snapshot: snapshot,
		Stats:    stats,
		Trades:   trades,
		Rules:    &rules,
		Account:  &acct,
		Now:      now,
		Degraded: !live,
	})
	insights := o.analyzer.Analyze(trades)

	eval := Evaluation{
		Account:    acct,
		Snapshot:   snapshot,
		DailyStats: stats,
		Risk:       report,
		Behavior:   insights,
		Sync:       syncStatus,
	}
	if !live {
		return eval, nil
	}

	if o.coach != nil && (len(insights.Flags) > 0 || report.Status.Alerting()) {
		note, noteErr := o.coach.Note(ctx, report, insights)
		if noteErr != nil {
			log.Warn("生成行为点评失败", zap.Error(noteErr))
		} else {
			eval.Behavior.CoachNote = note
		}
	}
	o.metrics.RecordBehavior(strconv.FormatInt(acct.ID, 10), insights.Score, insights.FlagSeverities())

	o.monitor.RecordEvaluation(ctx, acct.ID, snapshot, report)
	if len(insights.Flags) > 0 {
		o.monitor.RecordBehavior(ctx, acct.ID, eval.Behavior)
	}
	return eval, nil
}

// Tick 并发评估全部启用账户并汇总组合视图，单个账户失败只影响自身。
func (o *orchestrator) Tick(ctx context.Context) (portfolio.Summary, error) {
	accounts, err := o.store.ListAccounts(ctx, true)
	if err != nil {
		o.monitor.RecordError(ctx, "读取账户列表失败", err, nil)
		return portfolio.Summary{}, fmt.Errorf("app: 读取账户列表失败: %w", err)
	}
	o.prune(accounts)

	results := make([]portfolio.AccountResult, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, acct := range accounts {
		g.Go(func() error {
			eval, evalErr := o.EvaluateAccount(gctx, acct)
			if evalErr == nil && eval.Sync.Confidence != broker.ConfidenceLive {
				evalErr = fmt.Errorf("%w: 账户 %d 可信度 %s", ErrUnavailable, acct.ID, eval.Sync.Confidence)
			}
			results[i] = portfolio.AccountResult{
				Account:  acct,
				Snapshot: eval.Snapshot,
				Trades:   eval.Risk.Trades,
				Err:      evalErr,
			}
			if evalErr != nil {
				o.logger.Warn("账户评估失败", zap.Int64("account_id", acct.ID), zap.Error(evalErr))
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := portfolio.Summarize(results, o.exposureLots)
	o.metrics.RecordPoll(o.clock(), summary.TotalEquity)
	o.monitor.RecordPortfolio(ctx, summary)

	if len(summary.CorrelationWarnings) > 0 {
		o.logger.Info("组合风险提示", zap.Strings("warnings", summary.CorrelationWarnings))
	}
	return summary, nil
}
