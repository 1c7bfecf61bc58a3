// Package cmd 实现 risklock 命令行。
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"risklock/internal/app"
	"risklock/internal/config"
	"risklock/internal/log"
	"risklock/internal/storage"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "risklock",
	Short: "Read-only risk monitor for prop-firm trading accounts",
	Long: `RiskLock watches prop-firm trading accounts through read-only connectors,
evaluates daily loss, drawdown and lot-size rules, flags risky trading behavior
and alerts the trader by email or chat before a rule is breached.

RiskLock never places, modifies or closes orders.`,
	SilenceUsage: true,
}

// Execute 执行根命令。
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径，默认使用 configs/config.yaml")
}

// runtime 是单次命令执行所需的依赖。
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	store  storage.Store
}

func (r *runtime) Close() {
	if err := r.store.Close(); err != nil {
		r.logger.Warn("关闭数据库失败", zap.Error(err))
	}
	_ = r.logger.Sync()
}

// bootstrap 加载 .env、配置、日志与存储。非常驻命令的日志输出到 stderr，避免混入命令输出。
func bootstrap(ctx context.Context, daemon bool) (*runtime, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if !daemon {
		cfg.Logging.OutputPaths = []string{"stderr"}
	}

	logger, err := log.NewLogger(cfg.Logging, cfg.App.Name)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	store, err := app.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	return &runtime{cfg: cfg, logger: logger, store: store}, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
