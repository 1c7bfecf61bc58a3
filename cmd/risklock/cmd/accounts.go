package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"risklock/internal/account"
	"risklock/internal/broker"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage monitored accounts",
}

var accountsAddOpts struct {
	name       string
	provider   string
	externalID string
	email      string
	tier       string
	chatTarget string
	chatAlerts bool
	noEmail    bool
	preset     string
}

var accountsAddCmd = &cobra.Command{
	Use:     "add",
	Short:   "Register a broker account for monitoring",
	Example: `  risklock accounts add --name ftmo-100k --provider metaapi --external-id abc123 --email me@example.com --preset FTMO`,
	RunE:    runAccountsAdd,
}

var accountsListAll bool

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List monitored accounts",
	RunE:  runAccountsList,
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsAddCmd, accountsListCmd)

	f := accountsAddCmd.Flags()
	f.StringVar(&accountsAddOpts.name, "name", "", "账户名称 (必填)")
	f.StringVar(&accountsAddOpts.provider, "provider", broker.KindMock, "数据源: mock|mt5|metaapi|ccxt")
	f.StringVar(&accountsAddOpts.externalID, "external-id", "", "数据源侧的账户 ID")
	f.StringVar(&accountsAddOpts.email, "email", "", "告警邮箱")
	f.StringVar(&accountsAddOpts.tier, "tier", string(account.TierFree), "订阅等级: free|pro")
	f.StringVar(&accountsAddOpts.chatTarget, "chat-target", "", "聊天告警目标 (Telegram chat id 或 webhook URL)")
	f.BoolVar(&accountsAddOpts.chatAlerts, "chat-alerts", false, "启用聊天告警")
	f.BoolVar(&accountsAddOpts.noEmail, "no-email", false, "关闭邮件告警")
	f.StringVar(&accountsAddOpts.preset, "preset", "", "初始规则模板")
	_ = accountsAddCmd.MarkFlagRequired("name")

	accountsListCmd.Flags().BoolVar(&accountsListAll, "all", false, "包含已停用账户")
}

func runAccountsAdd(cmd *cobra.Command, args []string) error {
	opts := accountsAddOpts

	tier := account.Tier(strings.ToLower(opts.tier))
	if tier != account.TierFree && tier != account.TierPro {
		return fmt.Errorf("不支持的订阅等级: %q", opts.tier)
	}

	ctx := cmd.Context()
	rt, err := bootstrap(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if _, err := broker.NewProvider(opts.provider, opts.externalID, rt.cfg.Broker, rt.logger); err != nil {
		return err
	}

	acct := account.New(opts.name, strings.ToLower(opts.provider), opts.externalID)
	acct.OwnerEmail = opts.email
	acct.Tier = tier
	acct.ChatTarget = opts.chatTarget
	acct.ChatAlertsEnabled = opts.chatAlerts
	acct.EmailAlertsEnabled = !opts.noEmail
	if opts.preset != "" {
		presets := account.BuiltinPresets()
		if _, ok := presets.Lookup(opts.preset); !ok {
			return fmt.Errorf("未知的规则模板: %q (可选: %s)", opts.preset, strings.Join(presets.Names(), ", "))
		}
		name := opts.preset
		acct.Rules = acct.Rules.Apply(account.RuleUpdate{PresetName: &name}, presets)
	}

	if err := rt.store.CreateAccount(ctx, &acct); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), acct)
}

func runAccountsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := bootstrap(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	accounts, err := rt.store.ListAccounts(ctx, !accountsListAll)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tTIER\tACTIVE\tSTATUS\tPRESET\tDAILY%\tDD%\tMAX LOT")
	for _, a := range accounts {
		status := a.LastStatus
		if status == "" {
			status = "-"
		}
		preset := a.Rules.PresetName
		if preset == "" {
			preset = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%s\t%s\t%v\t%v\t%v\n",
			a.ID, a.Name, a.Provider, a.Tier, a.IsActive, status, preset,
			a.Rules.DailyLossLimitPct, a.Rules.MaxDrawdownLimitPct, a.Rules.MaxLotSize)
	}
	return w.Flush()
}
