package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"risklock/internal/behavior"
	"risklock/internal/broker"
	"risklock/internal/portfolio"
	"risklock/internal/risk"
	"risklock/internal/storage"
)

// Service 负责持久化监控事件。
type Service struct {
	store  storage.EventStore
	clock  func() time.Time
	logger *zap.Logger
}

// NewService 初始化监控服务。
func NewService(store storage.EventStore, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		clock:  func() time.Time { return time.Now().UTC() },
		logger: logger,
	}, nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock()
	}

	if err := s.store.AppendEvent(ctx, storage.Event{
		Type:      string(event.Type),
		Payload:   payload,
		CreatedAt: event.Timestamp,
	}); err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}
	return nil
}

// RecordEvaluation 记录风控评估。
func (s *Service) RecordEvaluation(ctx context.Context, accountID int64, snapshot broker.AccountSnapshot, report risk.Report) {
	if err := s.Record(ctx, Event{
		Type:    EventRiskEvaluation,
		Payload: RiskEvaluationPayload{AccountID: accountID, Snapshot: snapshot, Report: report},
	}); err != nil {
		s.logger.Warn("记录风控事件失败", zap.Int64("account_id", accountID), zap.Error(err))
	}
}

// RecordBehavior 记录行为分析。
func (s *Service) RecordBehavior(ctx context.Context, accountID int64, report behavior.Report) {
	if err := s.Record(ctx, Event{
		Type:    EventBehavior,
		Payload: BehaviorPayload{AccountID: accountID, Report: report},
	}); err != nil {
		s.logger.Warn("记录行为事件失败", zap.Int64("account_id", accountID), zap.Error(err))
	}
}

// RecordPortfolio 记录跨账户汇总。
func (s *Service) RecordPortfolio(ctx context.Context, summary portfolio.Summary) {
	if err := s.Record(ctx, Event{
		Type:    EventPortfolio,
		Payload: PortfolioPayload{Summary: summary},
	}); err != nil {
		s.logger.Warn("记录组合事件失败", zap.Error(err))
	}
}

// RecordSync 记录数据源同步状态。
func (s *Service) RecordSync(ctx context.Context, accountID int64, status broker.SyncStatus) {
	if err := s.Record(ctx, Event{
		Type:    EventSync,
		Payload: SyncPayload{AccountID: accountID, Status: status},
	}); err != nil {
		s.logger.Warn("记录同步事件失败", zap.Int64("account_id", accountID), zap.Error(err))
	}
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Context: ctxMap,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	if recErr := s.Record(ctx, Event{
		Type:    EventError,
		Payload: payload,
	}); recErr != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// ListEvents 按类型检索最近事件，eventType 为空时不过滤。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.store.ListEvents(ctx, string(eventType), limit)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}

	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, Event{
			Type:      EventType(row.Type),
			Timestamp: row.CreatedAt,
			Payload:   row.Payload,
		})
	}
	return events, nil
}
