package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "risklock"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := newViper()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	return decode(v)
}

// Default 返回仅由默认值与环境变量组成的配置，不读取文件。
func Default() (*Config, error) {
	return decode(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.name", "risklock")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/risklock.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("scheduler.poll_interval", "30s")
	v.SetDefault("scheduler.max_concurrency", 8)

	v.SetDefault("broker.fetch_timeout", "15s")
	v.SetDefault("broker.connect_timeout", "10s")
	v.SetDefault("broker.mock.balance", 100000.0)
	v.SetDefault("broker.mock.demo_mode", false)
	v.SetDefault("broker.metaapi.token", "")
	v.SetDefault("broker.metaapi.provisioning_url", "https://mt-provisioning-api-v1.agiliumtrade.agiliumtrade.ai")
	v.SetDefault("broker.metaapi.client_url", "https://mt-client-api-v1.new-york.agiliumtrade.ai")
	v.SetDefault("broker.metaapi.request_timeout", "10s")
	v.SetDefault("broker.metaapi.rate_limit", 5.0)
	v.SetDefault("broker.metaapi.burst", 5)
	v.SetDefault("broker.metaapi.retry.max_attempts", 3)
	v.SetDefault("broker.metaapi.retry.min_delay", "500ms")
	v.SetDefault("broker.metaapi.retry.max_delay", "5s")
	v.SetDefault("broker.ccxt.exchange", "binanceusdm")
	v.SetDefault("broker.ccxt.use_sandbox", false)

	v.SetDefault("risk.default_daily_loss_limit", 5000.0)
	v.SetDefault("risk.default_overall_limit", 10000.0)
	v.SetDefault("risk.default_max_lot_size", 10.0)
	v.SetDefault("risk.warning_ratio", 0.80)
	v.SetDefault("risk.critical_ratio", 0.95)
	v.SetDefault("risk.drawdown_critical_ratio", 0.90)
	v.SetDefault("risk.trades_to_breach_cap", 99)
	v.SetDefault("risk.new_trade_risk_score", 75)
	v.SetDefault("risk.oversized_risk_score", 30)
	v.SetDefault("risk.healthy_risk_score", 90)

	v.SetDefault("behavior.frequency_window", "1h")
	v.SetDefault("behavior.frequency_warning", 5)
	v.SetDefault("behavior.frequency_critical", 10)
	v.SetDefault("behavior.revenge_window", "10m")
	v.SetDefault("behavior.flag_penalty", 20)

	v.SetDefault("notify.cooldown", "60m")
	v.SetDefault("notify.send_timeout", "30s")
	v.SetDefault("notify.email.host", "")
	v.SetDefault("notify.email.port", 587)
	v.SetDefault("notify.email.from", "alerts@risklock.local")
	v.SetDefault("notify.chat.kind", "telegram")
	v.SetDefault("notify.chat.bot_token", "")
	v.SetDefault("notify.chat.api_url", "https://api.telegram.org")
	v.SetDefault("notify.chat.bot_name", "RiskLock")
	v.SetDefault("notify.chat.timeout", "10s")
	v.SetDefault("notify.chat.retry.max_attempts", 3)
	v.SetDefault("notify.chat.retry.min_delay", "1s")
	v.SetDefault("notify.chat.retry.max_delay", "5s")

	v.SetDefault("portfolio.exposure_warning_lots", 5.0)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.port", 8090)

	v.SetDefault("coach.enabled", false)
	v.SetDefault("coach.base_url", "https://api.openai.com/v1")
	v.SetDefault("coach.model", "gpt-4.1-mini")
	v.SetDefault("coach.timeout", "15s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
