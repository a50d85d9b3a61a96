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
	envPrefix         = "imxbatch"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

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

	v.SetDefault("network.name", "hyperliquid")
	v.SetDefault("network.market", "IMX/USDC")
	v.SetDefault("network.use_sandbox", false)

	v.SetDefault("workflow.kind", "relay")
	v.SetDefault("workflow.mode", "sequential")
	v.SetDefault("workflow.sell_variant", "IMX")
	v.SetDefault("workflow.fee_reserve", 0.02)
	v.SetDefault("workflow.gas_reserve", 0.00046)
	v.SetDefault("workflow.sweep_min", 0.01)
	v.SetDefault("workflow.settle_delay", "3s")
	v.SetDefault("workflow.confirm_retries", 3)
	v.SetDefault("workflow.confirm_delay", "3s")
	v.SetDefault("workflow.hop_delay", "1500ms")
	v.SetDefault("workflow.balance_wait_delay", "4s")
	v.SetDefault("workflow.inter_group_delay", "5s")
	v.SetDefault("workflow.cooldown_delay", "3m")
	v.SetDefault("workflow.abort_on_transfer_failure", false)
	v.SetDefault("workflow.balance_retry.max_attempts", 15)
	v.SetDefault("workflow.balance_retry.delay", "1s")
	v.SetDefault("workflow.transfer_retry.max_attempts", 15)
	v.SetDefault("workflow.transfer_retry.delay", "2s")
	v.SetDefault("workflow.trade_retry.max_attempts", 10)
	v.SetDefault("workflow.trade_retry.delay", "10s")
	v.SetDefault("workflow.action_retry.max_attempts", 15)
	v.SetDefault("workflow.action_retry.delay", "2s")
	v.SetDefault("workflow.reward_retry.max_attempts", 2)
	v.SetDefault("workflow.reward_retry.delay", "1s")
	v.SetDefault("workflow.trade_gas.max_fee_per_gas", 50)
	v.SetDefault("workflow.trade_gas.max_priority_fee_per_gas", 25)
	v.SetDefault("workflow.trade_gas.gas_limit", 300000)
	v.SetDefault("workflow.transfer_gas.max_fee_per_gas", 15)
	v.SetDefault("workflow.transfer_gas.max_priority_fee_per_gas", 10)
	v.SetDefault("workflow.transfer_gas.gas_limit", 26000)
	v.SetDefault("workflow.sell_gas.max_fee_per_gas", 50)
	v.SetDefault("workflow.sell_gas.max_priority_fee_per_gas", 25)
	v.SetDefault("workflow.sell_gas.gas_limit", 300000)

	v.SetDefault("database.path", "data/imx_batch.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8787)
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
