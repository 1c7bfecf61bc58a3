package cmd

import (
	"github.com/spf13/cobra"

	"risklock/internal/app"
)

var evaluateAccountID int64

var evaluateCmd = &cobra.Command{
	Use:     "evaluate",
	Short:   "Evaluate one account once and print the report as JSON",
	Example: `  risklock evaluate --account 1`,
	RunE:    runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().Int64VarP(&evaluateAccountID, "account", "a", 0, "账户 ID (必填)")
	_ = evaluateCmd.MarkFlagRequired("account")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := bootstrap(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	riskApp, err := app.New(rt.cfg, rt.logger, rt.store)
	if err != nil {
		return err
	}

	eval, err := riskApp.EvaluateAccount(ctx, evaluateAccountID)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), eval)
}
