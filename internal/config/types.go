package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Behavior  BehaviorConfig  `mapstructure:"behavior"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Portfolio PortfolioConfig `mapstructure:"portfolio"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Coach     CoachConfig     `mapstructure:"coach"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
	Name        string `mapstructure:"name"`
}

// DatabaseConfig 管理持久化后端。
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// SchedulerConfig 控制巡检节奏。
type SchedulerConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
}

// BrokerConfig 描述账户数据源。
type BrokerConfig struct {
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Mock           MockConfig    `mapstructure:"mock"`
	MetaAPI        MetaAPIConfig `mapstructure:"metaapi"`
	CCXT           CCXTConfig    `mapstructure:"ccxt"`
}

// MockConfig 控制模拟桥接。
type MockConfig struct {
	Balance  float64 `mapstructure:"balance"`
	DemoMode bool    `mapstructure:"demo_mode"`
}

// MetaAPIConfig 描述 MetaApi 云端接口。
type MetaAPIConfig struct {
	Token           string        `mapstructure:"token"`
	ProvisioningURL string        `mapstructure:"provisioning_url"`
	ClientURL       string        `mapstructure:"client_url"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	Burst           int           `mapstructure:"burst"`
	Retry           RetryConfig   `mapstructure:"retry"`
}

// CCXTConfig 描述加密衍生品交易所账户。
type CCXTConfig struct {
	Exchange   string `mapstructure:"exchange"`
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	APIPass    string `mapstructure:"api_password"`
	Wallet     string `mapstructure:"wallet_address"`
	PrivateKey string `mapstructure:"private_key"`
	UseSandbox bool   `mapstructure:"use_sandbox"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// RiskConfig 管理风控阈值。
type RiskConfig struct {
	DefaultDailyLossLimit float64 `mapstructure:"default_daily_loss_limit"`
	DefaultOverallLimit   float64 `mapstructure:"default_overall_limit"`
	DefaultMaxLotSize     float64 `mapstructure:"default_max_lot_size"`
	WarningRatio          float64 `mapstructure:"warning_ratio"`
	CriticalRatio         float64 `mapstructure:"critical_ratio"`
	DrawdownCriticalRatio float64 `mapstructure:"drawdown_critical_ratio"`
	TradesToBreachCap     int     `mapstructure:"trades_to_breach_cap"`
	NewTradeRiskScore     int     `mapstructure:"new_trade_risk_score"`
	OversizedRiskScore    int     `mapstructure:"oversized_risk_score"`
	HealthyRiskScore      int     `mapstructure:"healthy_risk_score"`
}

// BehaviorConfig 管理行为分析阈值。
type BehaviorConfig struct {
	FrequencyWindow   time.Duration `mapstructure:"frequency_window"`
	FrequencyWarning  int           `mapstructure:"frequency_warning"`
	FrequencyCritical int           `mapstructure:"frequency_critical"`
	RevengeWindow     time.Duration `mapstructure:"revenge_window"`
	FlagPenalty       int           `mapstructure:"flag_penalty"`
}

// NotifyConfig 管理告警通道。
type NotifyConfig struct {
	Cooldown    time.Duration `mapstructure:"cooldown"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	Email       EmailConfig   `mapstructure:"email"`
	Chat        ChatConfig    `mapstructure:"chat"`
}

// EmailConfig 描述 SMTP 发信参数。
type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// ChatConfig 描述即时消息通道。
type ChatConfig struct {
	Kind     string        `mapstructure:"kind"`
	BotToken string        `mapstructure:"bot_token"`
	APIURL   string        `mapstructure:"api_url"`
	BotName  string        `mapstructure:"bot_name"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Retry    RetryConfig   `mapstructure:"retry"`
}

// PortfolioConfig 控制跨账户汇总。
type PortfolioConfig struct {
	ExposureWarningLots float64 `mapstructure:"exposure_warning_lots"`
}

// MonitorConfig 控制监控接口。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// CoachConfig 描述交易行为点评所用的大模型参数。
type CoachConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}

	switch strings.ToLower(c.Database.Driver) {
	case "sqlite":
		if c.Database.Path == "" && !c.Database.InMemory {
			err = multierr.Append(err, errors.New("database.path 不能为空"))
		}
	case "postgres":
		if c.Database.DSN == "" {
			err = multierr.Append(err, errors.New("database.dsn 不能为空"))
		}
	case "memory":
	default:
		err = multierr.Append(err, fmt.Errorf("database.driver 不支持: %q", c.Database.Driver))
	}

	if c.Scheduler.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.poll_interval 必须大于0"))
	}
	if c.Scheduler.MaxConcurrency <= 0 {
		err = multierr.Append(err, errors.New("scheduler.max_concurrency 必须大于0"))
	}
	if c.Broker.FetchTimeout <= 0 || c.Broker.ConnectTimeout <= 0 {
		err = multierr.Append(err, errors.New("broker 超时必须为正"))
	}
	if c.Broker.MetaAPI.Retry.MinDelay > c.Broker.MetaAPI.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("broker.metaapi.retry.min_delay 不能大于 max_delay"))
	}

	if c.Risk.DefaultDailyLossLimit < 0 || c.Risk.DefaultOverallLimit < 0 {
		err = multierr.Append(err, errors.New("risk 默认限额不能为负"))
	}
	if c.Risk.DefaultMaxLotSize <= 0 {
		err = multierr.Append(err, errors.New("risk.default_max_lot_size 必须大于0"))
	}
	if c.Risk.WarningRatio <= 0 || c.Risk.WarningRatio > c.Risk.CriticalRatio || c.Risk.CriticalRatio > 1 {
		err = multierr.Append(err, errors.New("risk 预警比例必须满足 0 < warning <= critical <= 1"))
	}
	if c.Risk.DrawdownCriticalRatio <= 0 || c.Risk.DrawdownCriticalRatio > 1 {
		err = multierr.Append(err, errors.New("risk.drawdown_critical_ratio 必须位于(0,1]"))
	}
	if c.Risk.TradesToBreachCap <= 0 {
		err = multierr.Append(err, errors.New("risk.trades_to_breach_cap 必须大于0"))
	}

	if c.Behavior.FrequencyWindow <= 0 || c.Behavior.RevengeWindow <= 0 {
		err = multierr.Append(err, errors.New("behavior 时间窗口必须为正"))
	}
	if c.Behavior.FrequencyWarning <= 0 || c.Behavior.FrequencyWarning > c.Behavior.FrequencyCritical {
		err = multierr.Append(err, errors.New("behavior.frequency_warning 必须大于0且不超过 frequency_critical"))
	}

	if c.Notify.Cooldown < 0 {
		err = multierr.Append(err, errors.New("notify.cooldown 不能为负"))
	}
	switch strings.ToLower(c.Notify.Chat.Kind) {
	case "", "telegram", "webhook":
	default:
		err = multierr.Append(err, fmt.Errorf("notify.chat.kind 不支持: %q", c.Notify.Chat.Kind))
	}

	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, errors.New("monitor.port 无效"))
	}

	if c.Coach.Enabled {
		if c.Coach.APIKey == "" {
			err = multierr.Append(err, errors.New("coach.api_key 不能为空"))
		}
		if c.Coach.Model == "" {
			err = multierr.Append(err, errors.New("coach.model 不能为空"))
		}
	}

	return err
}
