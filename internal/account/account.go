package account

import (
	"encoding/json"
	"time"
)

// Tier 表示订阅等级，决定告警通道。
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// Account 是被监控的交易账户及其告警偏好。
type Account struct {
	ID                 int64      `json:"id"`
	Name               string     `json:"name"`
	OwnerEmail         string     `json:"owner_email"`
	Tier               Tier       `json:"tier"`
	Provider           string     `json:"provider"`
	ExternalID         string     `json:"external_id"`
	IsActive           bool       `json:"is_active"`
	EmailAlertsEnabled bool       `json:"email_alerts_enabled"`
	ChatAlertsEnabled  bool       `json:"chat_alerts_enabled"`
	ChatTarget         string     `json:"chat_target,omitempty"`
	LastNotificationAt *time.Time `json:"last_notification_at,omitempty"`
	LastStatus         string     `json:"last_status,omitempty"`
	Rules              RuleConfig `json:"rules"`
	CreatedAt          time.Time  `json:"created_at"`
}

// New 返回带默认规则与默认告警偏好的账户。
func New(name, provider, externalID string) Account {
	return Account{
		Name:               name,
		Tier:               TierFree,
		Provider:           provider,
		ExternalID:         externalID,
		IsActive:           true,
		EmailAlertsEnabled: true,
		Rules:              DefaultRules(),
	}
}

// EmailOnly 非 Pro 账户只发送邮件。
func (a Account) EmailOnly() bool {
	return a.Tier != TierPro
}

// RuleSnapshot 是评估时规则配置的不可变副本。
type RuleSnapshot struct {
	ID        int64      `json:"id"`
	AccountID int64      `json:"account_id"`
	Rules     RuleConfig `json:"rules"`
	CreatedAt time.Time  `json:"created_at"`
}

// 审计动作与分类。
const (
	ActionRuleChange   = "rule_change"
	ActionStatusChange = "status_change"
	CategoryRisk       = "risk"
)

// AuditEntry 记录一次规则或状态变更。
type AuditEntry struct {
	ID        int64           `json:"id"`
	AccountID int64           `json:"account_id"`
	Action    string          `json:"action"`
	Category  string          `json:"category"`
	Details   json.RawMessage `json:"details"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewAuditEntry 将 details 序列化为 JSON。
func NewAuditEntry(accountID int64, action string, details interface{}, at time.Time) (AuditEntry, error) {
	raw, err := json.Marshal(details)
	if err != nil {
		return AuditEntry{}, err
	}
	return AuditEntry{
		AccountID: accountID,
		Action:    action,
		Category:  CategoryRisk,
		Details:   raw,
		CreatedAt: at.UTC(),
	}, nil
}
