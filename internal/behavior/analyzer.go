// Package behavior 从持仓流中识别过度交易、报复性交易等行为模式，并按时段汇总表现。
package behavior

import (
	"fmt"
	"math"
	"sort"
	"time"

	"risklock/internal/broker"
	"risklock/internal/config"
)

// 行为标记类型。
const (
	FlagOvertrading    = "overtrading"
	FlagRevengeTrading = "revenge_trading"
)

// 标记严重程度。
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Flag 是一条行为标记。
type Flag struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// SessionStats 是单个时段的汇总。
type SessionStats struct {
	Count  int     `json:"count"`
	Profit float64 `json:"profit"`
}

// Report 是行为分析结果。
type Report struct {
	Flags              []Flag                          `json:"flags"`
	SessionPerformance map[broker.Session]SessionStats `json:"session_performance"`
	Score              int                             `json:"score"`
	CoachNote          string                          `json:"coach_note,omitempty"`
}

// FlagSeverities 按类型返回标记的严重程度。
func (r Report) FlagSeverities() map[string]string {
	out := make(map[string]string, len(r.Flags))
	for _, f := range r.Flags {
		out[f.Type] = f.Severity
	}
	return out
}

// Analyzer 是无状态的行为分析器。
type Analyzer struct {
	cfg   config.BehaviorConfig
	clock func() time.Time
}

// NewAnalyzer 创建分析器，零值配置项使用默认阈值。
func NewAnalyzer(cfg config.BehaviorConfig, clock func() time.Time) *Analyzer {
	if cfg.FrequencyWindow <= 0 {
		cfg.FrequencyWindow = time.Hour
	}
	if cfg.FrequencyWarning <= 0 {
		cfg.FrequencyWarning = 5
	}
	if cfg.FrequencyCritical <= 0 {
		cfg.FrequencyCritical = 10
	}
	if cfg.RevengeWindow <= 0 {
		cfg.RevengeWindow = 10 * time.Minute
	}
	if cfg.FlagPenalty <= 0 {
		cfg.FlagPenalty = 20
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Analyzer{cfg: cfg, clock: clock}
}

// Analyze 分析持仓列表，空输入返回满分且无标记。
func (a *Analyzer) Analyze(trades []broker.Trade) Report {
	report := Report{
		Flags:              make([]Flag, 0, 2),
		SessionPerformance: make(map[broker.Session]SessionStats),
		Score:              100,
	}
	if len(trades) == 0 {
		return report
	}

	if f, ok := a.overtrading(trades); ok {
		report.Flags = append(report.Flags, f)
	}
	if f, ok := a.revenge(trades); ok {
		report.Flags = append(report.Flags, f)
	}

	for _, t := range trades {
		if !t.Session.Valid() {
			continue
		}
		s := report.SessionPerformance[t.Session]
		s.Count++
		s.Profit += t.Profit
		report.SessionPerformance[t.Session] = s
	}
	for name, s := range report.SessionPerformance {
		s.Profit = math.Round(s.Profit*100) / 100
		report.SessionPerformance[name] = s
	}

	report.Score = max(0, 100-a.cfg.FlagPenalty*len(report.Flags))
	return report
}

func (a *Analyzer) overtrading(trades []broker.Trade) (Flag, bool) {
	now := a.clock()
	recent := 0
	for _, t := range trades {
		if t.OpenTime.IsZero() {
			continue
		}
		if now.Sub(t.OpenTime) < a.cfg.FrequencyWindow {
			recent++
		}
	}
	if recent < a.cfg.FrequencyWarning {
		return Flag{}, false
	}
	severity := SeverityWarning
	if recent >= a.cfg.FrequencyCritical {
		severity = SeverityCritical
	}
	return Flag{
		Type:     FlagOvertrading,
		Severity: severity,
		Message:  fmt.Sprintf("High frequency detected: %d trades in the last hour.", recent),
	}, true
}

// revenge 按开仓时间倒序扫描相邻持仓：前一笔亏损且已平仓，后一笔在窗口内加量开仓即命中，最多一条。
func (a *Analyzer) revenge(trades []broker.Trade) (Flag, bool) {
	sorted := append([]broker.Trade(nil), trades...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := sorted[i].OpenTime, sorted[j].OpenTime
		if ti.IsZero() || tj.IsZero() {
			return !ti.IsZero() && tj.IsZero()
		}
		return ti.After(tj)
	})

	for i := 0; i+1 < len(sorted); i++ {
		current, previous := sorted[i], sorted[i+1]
		if previous.Profit >= 0 || previous.CloseTime == nil || current.OpenTime.IsZero() {
			continue
		}
		if current.OpenTime.Sub(*previous.CloseTime) < a.cfg.RevengeWindow && current.Volume > previous.Volume {
			return Flag{
				Type:     FlagRevengeTrading,
				Severity: SeverityCritical,
				Message:  "Revenge trading pattern: Aggressive re-entry with increased volume after a loss.",
			}, true
		}
	}
	return Flag{}, false
}
