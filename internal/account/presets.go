package account

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed presets.yaml
var builtinPresets []byte

// Preset 是自营公司的标准规则模板，nil 字段不覆盖现有值。
type Preset struct {
	Description         string   `yaml:"description" json:"description"`
	DailyLossLimitPct   *float64 `yaml:"daily_loss_limit_pct" json:"daily_loss_limit_pct,omitempty"`
	MaxDrawdownLimitPct *float64 `yaml:"max_drawdown_limit_pct" json:"max_drawdown_limit_pct,omitempty"`
	MaxDailyTrades      *int     `yaml:"max_daily_trades" json:"max_daily_trades,omitempty"`
	MaxLotSize          *float64 `yaml:"max_lot_size" json:"max_lot_size,omitempty"`
	NewsTradingAllowed  *bool    `yaml:"news_trading_allowed" json:"news_trading_allowed,omitempty"`
}

func (p Preset) applyTo(r RuleConfig) RuleConfig {
	if p.DailyLossLimitPct != nil {
		r.DailyLossLimitPct = *p.DailyLossLimitPct
	}
	if p.MaxDrawdownLimitPct != nil {
		r.MaxDrawdownLimitPct = *p.MaxDrawdownLimitPct
	}
	if p.MaxDailyTrades != nil {
		r.MaxDailyTrades = *p.MaxDailyTrades
	}
	if p.MaxLotSize != nil {
		r.MaxLotSize = *p.MaxLotSize
	}
	if p.NewsTradingAllowed != nil {
		r.NewsTradingAllowed = *p.NewsTradingAllowed
	}
	return r
}

// PresetBook 按名称索引规则模板。
type PresetBook map[string]Preset

// ParsePresets 解析 YAML 格式的模板集合。
func ParsePresets(data []byte) (PresetBook, error) {
	book := make(PresetBook)
	if err := yaml.Unmarshal(data, &book); err != nil {
		return nil, fmt.Errorf("account: 解析规则模板失败: %w", err)
	}
	return book, nil
}

// BuiltinPresets 返回内置模板。
func BuiltinPresets() PresetBook {
	book, err := ParsePresets(builtinPresets)
	if err != nil {
		panic(err)
	}
	return book
}

// Lookup 按名称查找模板。
func (b PresetBook) Lookup(name string) (Preset, bool) {
	if name == "" {
		return Preset{}, false
	}
	p, ok := b[name]
	return p, ok
}

// Names 返回排序后的模板名称。
func (b PresetBook) Names() []string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
