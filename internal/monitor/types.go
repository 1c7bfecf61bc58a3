package monitor

import (
	"time"

	"risklock/internal/behavior"
	"risklock/internal/broker"
	"risklock/internal/portfolio"
	"risklock/internal/risk"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventRiskEvaluation EventType = "risk_evaluation"
	EventBehavior       EventType = "behavior"
	EventPortfolio      EventType = "portfolio"
	EventSync           EventType = "sync"
	EventError          EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// RiskEvaluationPayload 记录一次账户评估。
type RiskEvaluationPayload struct {
	AccountID int64                  `json:"account_id"`
	Snapshot  broker.AccountSnapshot `json:"snapshot"`
	Report    risk.Report            `json:"report"`
}

// BehaviorPayload 记录行为分析结果。
type BehaviorPayload struct {
	AccountID int64           `json:"account_id"`
	Report    behavior.Report `json:"report"`
}

// PortfolioPayload 记录跨账户汇总。
type PortfolioPayload struct {
	Summary portfolio.Summary `json:"summary"`
}

// SyncPayload 记录数据源同步状态。
type SyncPayload struct {
	AccountID int64             `json:"account_id"`
	Status    broker.SyncStatus `json:"status"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
