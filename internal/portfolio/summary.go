// Package portfolio 汇总多个账户的资金与品种敞口。
package portfolio

import (
	"fmt"
	"sort"

	"risklock/internal/account"
	"risklock/internal/broker"
)

const defaultExposureWarningLots = 5.0

// AccountResult 是单个账户一次拉取的结果，Err 非空表示拉取失败。
type AccountResult struct {
	Account  account.Account
	Snapshot broker.AccountSnapshot
	Trades   []broker.Trade
	Err      error
}

// AccountSummary 是汇总中的单账户行。
type AccountSummary struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Balance float64 `json:"balance"`
	Equity  float64 `json:"equity"`
	Status  string  `json:"status"`
}

// Exposure 是某个品种的多空手数。
type Exposure struct {
	Long  float64 `json:"long"`
	Short float64 `json:"short"`
}

// Summary 是跨账户汇总。
type Summary struct {
	TotalBalance        float64             `json:"total_balance"`
	TotalEquity         float64             `json:"total_equity"`
	TotalProfit         float64             `json:"total_profit"`
	Accounts            []AccountSummary    `json:"accounts"`
	Exposure            map[string]Exposure `json:"exposure"`
	CorrelationWarnings []string            `json:"correlation_warnings"`
}

// Summarize 汇总成功拉取的账户，失败的账户直接跳过。
// warningLots 不大于0时使用默认阈值 5 手。
func Summarize(results []AccountResult, warningLots float64) Summary {
	if warningLots <= 0 {
		warningLots = defaultExposureWarningLots
	}

	sum := Summary{
		Accounts:            make([]AccountSummary, 0, len(results)),
		Exposure:            make(map[string]Exposure),
		CorrelationWarnings: []string{},
	}

	for _, res := range results {
		if res.Err != nil {
			continue
		}
		sum.TotalBalance += res.Snapshot.Balance
		sum.TotalEquity += res.Snapshot.Equity
		sum.TotalProfit += res.Snapshot.Profit

		for _, t := range res.Trades {
			exp := sum.Exposure[t.Symbol]
			if t.Side == broker.SideBuy {
				exp.Long += t.Volume
			} else {
				exp.Short += t.Volume
			}
			sum.Exposure[t.Symbol] = exp
		}

		status := "inactive"
		if res.Account.IsActive {
			status = "active"
		}
		sum.Accounts = append(sum.Accounts, AccountSummary{
			ID:      res.Account.ID,
			Name:    res.Account.Name,
			Balance: res.Snapshot.Balance,
			Equity:  res.Snapshot.Equity,
			Status:  status,
		})
	}

	symbols := make([]string, 0, len(sum.Exposure))
	for sym := range sum.Exposure {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		exp := sum.Exposure[sym]
		if exp.Long > 0 && exp.Short > 0 {
			sum.CorrelationWarnings = append(sum.CorrelationWarnings,
				fmt.Sprintf("Hedged position detected on %s across accounts.", sym))
		}
		if exp.Long > warningLots || exp.Short > warningLots {
			sum.CorrelationWarnings = append(sum.CorrelationWarnings,
				fmt.Sprintf("High exposure on %s (%v lots).", sym, max(exp.Long, exp.Short)))
		}
	}

	return sum
}
