package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"risklock/internal/app"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll every active account and serve the monitor endpoints",
	Long: `Run evaluates every active account on each poll interval, dispatches alerts,
records the monitor journal and serves /events, /metrics and /healthz when the
monitor is enabled.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	riskApp, err := app.New(rt.cfg, rt.logger, rt.store)
	if err != nil {
		rt.logger.Error("初始化应用失败", zap.Error(err))
		return err
	}

	if err := riskApp.Run(ctx); err != nil {
		rt.logger.Error("系统运行异常", zap.Error(err))
		return err
	}

	rt.logger.Info("系统已安全退出")
	return nil
}
