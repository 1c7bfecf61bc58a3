package risk

import "risklock/internal/broker"

// DailyStats 是当前持仓的汇总。仅统计未平仓持仓，不含当日已实现盈亏。
type DailyStats struct {
	DailyProfit float64 `json:"daily_profit"`
	DailyVolume float64 `json:"daily_volume"`
	TradesCount int     `json:"trades_count"`
}

// ComputeDailyStats 汇总持仓盈亏、手数与笔数。
func ComputeDailyStats(trades []broker.Trade) DailyStats {
	var stats DailyStats
	for _, t := range trades {
		stats.DailyProfit += t.Profit
		stats.DailyVolume += t.Volume
	}
	stats.TradesCount = len(trades)
	return stats
}
