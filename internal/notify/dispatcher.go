package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"risklock/internal/account"
	"risklock/internal/config"
	"risklock/internal/observability"
	"risklock/internal/risk"
	"risklock/internal/storage"
)

var _ risk.Notifier = (*Dispatcher)(nil)

// Dispatcher 在冷却期外将告警投递到已启用的通道。
// 冷却判断是先读后写，同一账户并发评估时只保证尽力去重。
type Dispatcher struct {
	store    storage.AccountStore
	email    Channel
	chat     Channel
	queue    *Queue
	cooldown time.Duration
	metrics  *observability.Metrics
	clock    func() time.Time
	logger   *zap.Logger
}

// DispatcherOption 配置 Dispatcher。
type DispatcherOption func(*Dispatcher)

// WithDispatcherMetrics 设置指标。
func WithDispatcherMetrics(m *observability.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithDispatcherClock 替换时钟，用于测试。
func WithDispatcherClock(clock func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.clock = clock }
}

// NewDispatcher 创建分发器，email 或 chat 可为 nil。
func NewDispatcher(store storage.AccountStore, email, chat Channel, cfg config.NotifyConfig, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = time.Hour
	}
	d := &Dispatcher{
		store:    store,
		email:    email,
		chat:     chat,
		queue:    NewQueue(cfg.SendTimeout, logger),
		cooldown: cooldown,
		clock:    func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify 将告警提交到后台队列后立即返回。
func (d *Dispatcher) Notify(ctx context.Context, acct account.Account, status risk.Status, violations []string, emailOnly bool) {
	if !status.Alerting() {
		return
	}
	d.queue.Submit(ctx, "risk_alert", func(ctx context.Context) error {
		d.SendRiskAlert(ctx, acct, status, violations, emailOnly)
		return nil
	})
}

// Wait 等待后台告警全部结束。
func (d *Dispatcher) Wait() {
	d.queue.Wait()
}

// SendRiskAlert 同步执行一次告警投递，返回是否越过了冷却期。
// 通道发送失败与通知时间写入失败都只记录日志。
func (d *Dispatcher) SendRiskAlert(ctx context.Context, acct account.Account, status risk.Status, violations []string, emailOnly bool) bool {
	if !status.Alerting() {
		return false
	}

	current := acct
	if fresh, err := d.store.GetAccount(ctx, acct.ID); err == nil {
		current = fresh
	} else {
		d.logger.Warn("读取账户失败，使用评估时的账户信息", zap.Int64("account_id", acct.ID), zap.Error(err))
	}

	now := d.clock()
	if last := current.LastNotificationAt; last != nil && now.Sub(*last) < d.cooldown {
		d.metrics.RecordNotifySkipped("cooldown")
		d.logger.Info("告警处于冷却期，已跳过",
			zap.Int64("account_id", current.ID),
			zap.Time("last_notification_at", *last),
		)
		return false
	}

	alert := Alert{
		ID:          uuid.NewString(),
		AccountID:   current.ID,
		AccountName: current.Name,
		Status:      status,
		Violations:  violations,
		At:          now,
	}
	log := d.logger.With(zap.Int64("account_id", current.ID), zap.String("alert_id", alert.ID))

	if current.EmailAlertsEnabled && current.OwnerEmail != "" && d.email != nil {
		d.send(ctx, log, d.email, current.OwnerEmail, alert)
	}
	if current.ChatAlertsEnabled && !emailOnly && current.ChatTarget != "" && d.chat != nil {
		d.send(ctx, log, d.chat, current.ChatTarget, alert)
	}

	if err := d.store.MarkNotified(ctx, current.ID, now); err != nil {
		log.Error("更新通知时间失败", zap.Error(err))
	}
	return true
}

func (d *Dispatcher) send(ctx context.Context, log *zap.Logger, ch Channel, target string, alert Alert) {
	err := ch.Send(ctx, target, alert)
	d.metrics.RecordNotification(ch.Name(), err)
	if err != nil {
		log.Warn("告警发送失败", zap.String("channel", ch.Name()), zap.Error(err))
		return
	}
	log.Info("告警已发送", zap.String("channel", ch.Name()), zap.String("status", string(alert.Status)))
}
