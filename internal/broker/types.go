package broker

import (
	"strings"
	"time"
)

// Session 表示交易时段，写入方与统计方共用同一组取值。
type Session string

const (
	SessionLondon  Session = "London"
	SessionNewYork Session = "NewYork"
	SessionAsia    Session = "Asia"
)

// Valid 判断是否为规范时段。
func (s Session) Valid() bool {
	switch s {
	case SessionLondon, SessionNewYork, SessionAsia:
		return true
	default:
		return false
	}
}

// SessionAt 按 UTC 小时划分时段：[8,16) 伦敦，[14,22) 纽约，其余亚洲。
// 伦敦优先匹配，因此纽约实际覆盖 [16,22)。
func SessionAt(ts time.Time) Session {
	hour := ts.UTC().Hour()
	switch {
	case hour >= 8 && hour < 16:
		return SessionLondon
	case hour >= 14 && hour < 22:
		return SessionNewYork
	default:
		return SessionAsia
	}
}

// Side 表示持仓方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide 兼容 long/short 与 MT 平台的 POSITION_TYPE_* 写法。
func ParseSide(raw string) Side {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sell", "short", "position_type_sell":
		return SideSell
	default:
		return SideBuy
	}
}

// ConfidenceStatus 描述数据可信度。
type ConfidenceStatus string

const (
	ConfidenceLive     ConfidenceStatus = "LIVE"
	ConfidenceDegraded ConfidenceStatus = "DEGRADED"
	ConfidenceStale    ConfidenceStatus = "STALE"
	ConfidencePaused   ConfidenceStatus = "PAUSED"
)

// AccountSnapshot 是某一时刻的账户状态。
type AccountSnapshot struct {
	Login       int64   `json:"login"`
	Name        string  `json:"name"`
	Server      string  `json:"server"`
	Platform    string  `json:"platform"`
	Currency    string  `json:"currency"`
	Leverage    int     `json:"leverage"`
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	Margin      float64 `json:"margin"`
	MarginFree  float64 `json:"margin_free"`
	MarginLevel float64 `json:"margin_level"`
	Profit      float64 `json:"profit"`
}

// FallbackSnapshot 返回上游不可用时使用的零值快照。
func FallbackSnapshot() AccountSnapshot {
	return AccountSnapshot{
		Name:     "Error",
		Currency: "USD",
		Leverage: 1,
		Platform: "error",
	}
}

// Trade 表示一笔持仓。
type Trade struct {
	Ticket       int64      `json:"ticket"`
	Symbol       string     `json:"symbol"`
	Side         Side       `json:"side"`
	Volume       float64    `json:"volume"`
	OpenPrice    float64    `json:"open_price"`
	CurrentPrice float64    `json:"current_price"`
	Profit       float64    `json:"profit"`
	OpenTime     time.Time  `json:"open_time"`
	CloseTime    *time.Time `json:"close_time,omitempty"`
	Session      Session    `json:"session,omitempty"`
	RiskScore    int        `json:"risk_score,omitempty"`
}

// SyncStatus 汇总连接器的同步状态。
type SyncStatus struct {
	Provider   string           `json:"provider"`
	Confidence ConfidenceStatus `json:"confidence"`
	LastSync   *time.Time       `json:"last_sync,omitempty"`
}
