package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"risklock/internal/account"
	"risklock/internal/storage"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and change account risk rules",
}

var rulesSetOpts struct {
	accountID      int64
	preset         string
	dailyLossPct   float64
	maxDrawdownPct float64
	maxDailyTrades int
	maxLot         float64
	newsTrading    bool
}

var rulesSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update rules; only flags that are passed are changed",
	Example: `  risklock rules set --account 1 --preset FTMO
  risklock rules set --account 1 --max-lot 5 --news-trading=false`,
	RunE: runRulesSet,
}

var rulesPresetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List built-in prop-firm presets",
	RunE:  runRulesPresets,
}

var rulesAuditOpts struct {
	accountID int64
	limit     int
}

var rulesAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show rule and status changes of an account",
	RunE:  runRulesAudit,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesSetCmd, rulesPresetsCmd, rulesAuditCmd)

	f := rulesSetCmd.Flags()
	f.Int64VarP(&rulesSetOpts.accountID, "account", "a", 0, "账户 ID (必填)")
	f.StringVar(&rulesSetOpts.preset, "preset", "", "规则模板名称，传空字符串清除")
	f.Float64Var(&rulesSetOpts.dailyLossPct, "daily-loss-pct", 0, "日内亏损上限 (余额百分比)")
	f.Float64Var(&rulesSetOpts.maxDrawdownPct, "max-drawdown-pct", 0, "总回撤上限 (余额百分比)")
	f.IntVar(&rulesSetOpts.maxDailyTrades, "max-daily-trades", 0, "每日最大交易笔数")
	f.Float64Var(&rulesSetOpts.maxLot, "max-lot", 0, "单笔最大手数")
	f.BoolVar(&rulesSetOpts.newsTrading, "news-trading", true, "是否允许新闻时段交易")
	_ = rulesSetCmd.MarkFlagRequired("account")

	rulesAuditCmd.Flags().Int64VarP(&rulesAuditOpts.accountID, "account", "a", 0, "账户 ID (必填)")
	rulesAuditCmd.Flags().IntVar(&rulesAuditOpts.limit, "limit", 20, "最多显示条数")
	_ = rulesAuditCmd.MarkFlagRequired("account")
}

// ruleUpdateFromFlags 只收集显式传入的参数。
func ruleUpdateFromFlags(cmd *cobra.Command) account.RuleUpdate {
	var u account.RuleUpdate
	f := cmd.Flags()
	opts := rulesSetOpts
	if f.Changed("preset") {
		u.PresetName = &opts.preset
	}
	if f.Changed("daily-loss-pct") {
		u.DailyLossLimitPct = &opts.dailyLossPct
	}
	if f.Changed("max-drawdown-pct") {
		u.MaxDrawdownLimitPct = &opts.maxDrawdownPct
	}
	if f.Changed("max-daily-trades") {
		u.MaxDailyTrades = &opts.maxDailyTrades
	}
	if f.Changed("max-lot") {
		u.MaxLotSize = &opts.maxLot
	}
	if f.Changed("news-trading") {
		u.NewsTradingAllowed = &opts.newsTrading
	}
	return u
}

func runRulesSet(cmd *cobra.Command, args []string) error {
	update := ruleUpdateFromFlags(cmd)
	if update == (account.RuleUpdate{}) {
		return errors.New("至少需要指定一项规则")
	}

	ctx := cmd.Context()
	rt, err := bootstrap(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	acct, changed, err := storage.UpdateRules(ctx, rt.store, rulesSetOpts.accountID, update, account.BuiltinPresets(), time.Now().UTC())
	if err != nil {
		return err
	}
	if !changed {
		fmt.Fprintln(cmd.ErrOrStderr(), "规则未变化")
	}
	return printJSON(cmd.OutOrStdout(), acct.Rules)
}

func runRulesPresets(cmd *cobra.Command, args []string) error {
	presets := account.BuiltinPresets()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDAILY%\tDD%\tMAX LOT\tNEWS\tDESCRIPTION")
	for _, name := range presets.Names() {
		p, _ := presets.Lookup(name)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", name,
			optional(p.DailyLossLimitPct), optional(p.MaxDrawdownLimitPct), optional(p.MaxLotSize),
			optional(p.NewsTradingAllowed), p.Description)
	}
	return w.Flush()
}

func optional[T any](v *T) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

func runRulesAudit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := bootstrap(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	entries, err := rt.store.AuditLog(ctx, rulesAuditOpts.accountID, rulesAuditOpts.limit)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), entries)
}
