package account

// RuleConfig 是自营公司规定的风控参数。
type RuleConfig struct {
	DailyLossLimitPct   float64 `json:"daily_loss_limit_pct" yaml:"daily_loss_limit_pct"`
	MaxDrawdownLimitPct float64 `json:"max_drawdown_limit_pct" yaml:"max_drawdown_limit_pct"`
	MaxDailyTrades      int     `json:"max_daily_trades" yaml:"max_daily_trades"`
	MaxLotSize          float64 `json:"max_lot_size" yaml:"max_lot_size"`
	NewsTradingAllowed  bool    `json:"news_trading_allowed" yaml:"news_trading_allowed"`
	PresetName          string  `json:"preset_name,omitempty" yaml:"-"`
}

// DefaultRules 返回新账户的默认规则。
func DefaultRules() RuleConfig {
	return RuleConfig{
		DailyLossLimitPct:   5,
		MaxDrawdownLimitPct: 10,
		MaxDailyTrades:      50,
		MaxLotSize:          10,
		NewsTradingAllowed:  true,
	}
}

// RuleUpdate 描述一次部分更新；nil 字段保持不变。
// PresetName 非 nil 时先应用预设，再应用逐项覆盖；空字符串或未知预设会清除预设名。
type RuleUpdate struct {
	PresetName          *string
	DailyLossLimitPct   *float64
	MaxDrawdownLimitPct *float64
	MaxDailyTrades      *int
	MaxLotSize          *float64
	NewsTradingAllowed  *bool
}

// Apply 返回应用更新后的新规则，不修改接收者。
func (r RuleConfig) Apply(u RuleUpdate, presets PresetBook) RuleConfig {
	next := r

	if u.PresetName != nil {
		next.PresetName = ""
		if preset, ok := presets.Lookup(*u.PresetName); ok {
			next = preset.applyTo(next)
			next.PresetName = *u.PresetName
		}
	}

	if u.DailyLossLimitPct != nil {
		next.DailyLossLimitPct = *u.DailyLossLimitPct
	}
	if u.MaxDrawdownLimitPct != nil {
		next.MaxDrawdownLimitPct = *u.MaxDrawdownLimitPct
	}
	if u.MaxDailyTrades != nil {
		next.MaxDailyTrades = *u.MaxDailyTrades
	}
	if u.MaxLotSize != nil {
		next.MaxLotSize = *u.MaxLotSize
	}
	if u.NewsTradingAllowed != nil {
		next.NewsTradingAllowed = *u.NewsTradingAllowed
	}
	return next
}

// Change 记录单个字段的新旧值。
type Change struct {
	Old interface{} `json:"old"`
	New interface{} `json:"new"`
}

// Diff 列出 old 与 next 之间发生变化的字段，无变化时返回空 map。
func Diff(old, next RuleConfig) map[string]Change {
	changes := make(map[string]Change)
	if old.DailyLossLimitPct != next.DailyLossLimitPct {
		changes["daily_loss_limit_pct"] = Change{Old: old.DailyLossLimitPct, New: next.DailyLossLimitPct}
	}
	if old.MaxDrawdownLimitPct != next.MaxDrawdownLimitPct {
		changes["max_drawdown_limit_pct"] = Change{Old: old.MaxDrawdownLimitPct, New: next.MaxDrawdownLimitPct}
	}
	if old.MaxDailyTrades != next.MaxDailyTrades {
		changes["max_daily_trades"] = Change{Old: old.MaxDailyTrades, New: next.MaxDailyTrades}
	}
	if old.MaxLotSize != next.MaxLotSize {
		changes["max_lot_size"] = Change{Old: old.MaxLotSize, New: next.MaxLotSize}
	}
	if old.NewsTradingAllowed != next.NewsTradingAllowed {
		changes["news_trading_allowed"] = Change{Old: old.NewsTradingAllowed, New: next.NewsTradingAllowed}
	}
	if old.PresetName != next.PresetName {
		changes["preset_name"] = Change{Old: nullable(old.PresetName), New: nullable(next.PresetName)}
	}
	return changes
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
