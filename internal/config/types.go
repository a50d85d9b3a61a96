package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了批量交易控制台运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Network  NetworkConfig  `mapstructure:"network"`
	Accounts AccountsConfig `mapstructure:"accounts"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// NetworkConfig 描述账户所绑定的远端网络。
type NetworkConfig struct {
	Name       string `mapstructure:"name"`
	Market     string `mapstructure:"market"`
	UseSandbox bool   `mapstructure:"use_sandbox"`
}

// AccountsConfig 描述账户文件来源与根钱包。
type AccountsConfig struct {
	Files            []string `mapstructure:"files"`
	Dir              string   `mapstructure:"dir"`
	RootKey          string   `mapstructure:"root_key"`
	RootSecondaryKey string   `mapstructure:"root_secondary_key"`
}

// RetryPlan 描述单类操作的固定间隔重试预算。
type RetryPlan struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay"`
}

// GasPlan 为透传给远端客户端的 gas 覆盖参数，核心不做解释。
type GasPlan struct {
	MaxFeePerGas         float64 `mapstructure:"max_fee_per_gas"`
	MaxPriorityFeePerGas float64 `mapstructure:"max_priority_fee_per_gas"`
	GasLimit             int64   `mapstructure:"gas_limit"`
}

// WorkflowConfig 控制一次批量会话执行的工作流及其参数。
// 各流程变体之间的差异（重试预算、转账失败是否中止整组）全部显式配置。
type WorkflowConfig struct {
	Kind string `mapstructure:"kind"`
	Mode string `mapstructure:"mode"`

	SellAmount     float64 `mapstructure:"sell_amount"`
	SellVariant    string  `mapstructure:"sell_variant"`
	TransferAmount float64 `mapstructure:"transfer_amount"`
	Threshold      float64 `mapstructure:"threshold"`

	FeeReserve float64 `mapstructure:"fee_reserve"`
	GasReserve float64 `mapstructure:"gas_reserve"`
	SweepMin   float64 `mapstructure:"sweep_min"`

	SettleDelay      time.Duration `mapstructure:"settle_delay"`
	ConfirmRetries   int           `mapstructure:"confirm_retries"`
	ConfirmDelay     time.Duration `mapstructure:"confirm_delay"`
	HopDelay         time.Duration `mapstructure:"hop_delay"`
	BalanceWaitDelay time.Duration `mapstructure:"balance_wait_delay"`
	InterGroupDelay  time.Duration `mapstructure:"inter_group_delay"`
	CooldownDelay    time.Duration `mapstructure:"cooldown_delay"`
	StartAt          string        `mapstructure:"start_at"`

	RewardContract string `mapstructure:"reward_contract"`
	RewardItem     string `mapstructure:"reward_item"`

	AbortOnTransferFailure bool `mapstructure:"abort_on_transfer_failure"`
	PreCreateOrders        bool `mapstructure:"pre_create_orders"`
	SweepEachHop           bool `mapstructure:"sweep_each_hop"`

	BalanceRetry  RetryPlan `mapstructure:"balance_retry"`
	TransferRetry RetryPlan `mapstructure:"transfer_retry"`
	TradeRetry    RetryPlan `mapstructure:"trade_retry"`
	ActionRetry   RetryPlan `mapstructure:"action_retry"`
	RewardRetry   RetryPlan `mapstructure:"reward_retry"`

	TradeGas    GasPlan `mapstructure:"trade_gas"`
	TransferGas GasPlan `mapstructure:"transfer_gas"`
	SellGas     GasPlan `mapstructure:"sell_gas"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
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

// ServerConfig 控制控制台 HTTP 服务。
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// WorkflowKinds 列出受支持的工作流。
var WorkflowKinds = []string{"relay", "parity", "gems", "reward_gems", "rewards"}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Network.Name == "" {
		err = multierr.Append(err, errors.New("network.name 不能为空"))
	}
	if len(c.Accounts.Files) == 0 && c.Accounts.Dir == "" {
		err = multierr.Append(err, errors.New("accounts.files 与 accounts.dir 至少配置一个"))
	}

	if !containsFold(WorkflowKinds, c.Workflow.Kind) {
		err = multierr.Append(err, fmt.Errorf("workflow.kind 必须是 %s 之一", strings.Join(WorkflowKinds, "/")))
	}
	if c.Workflow.Mode != "sequential" && c.Workflow.Mode != "concurrent" {
		err = multierr.Append(err, errors.New("workflow.mode 必须是 sequential 或 concurrent"))
	}
	if c.Workflow.SellAmount < 0 {
		err = multierr.Append(err, errors.New("workflow.sell_amount 不能为负"))
	}
	if c.Workflow.TransferAmount < 0 {
		err = multierr.Append(err, errors.New("workflow.transfer_amount 不能为负"))
	}
	if c.Workflow.FeeReserve < 0 || c.Workflow.GasReserve < 0 {
		err = multierr.Append(err, errors.New("workflow.fee_reserve/gas_reserve 不能为负"))
	}
	if c.Workflow.SweepMin < 0 {
		err = multierr.Append(err, errors.New("workflow.sweep_min 不能为负"))
	}
	if c.Workflow.CooldownDelay <= 0 {
		err = multierr.Append(err, errors.New("workflow.cooldown_delay 必须大于0"))
	}
	for name, plan := range map[string]RetryPlan{
		"balance_retry":  c.Workflow.BalanceRetry,
		"transfer_retry": c.Workflow.TransferRetry,
		"trade_retry":    c.Workflow.TradeRetry,
		"action_retry":   c.Workflow.ActionRetry,
		"reward_retry":   c.Workflow.RewardRetry,
	} {
		if plan.MaxAttempts <= 0 {
			err = multierr.Append(err, fmt.Errorf("workflow.%s.max_attempts 必须大于0", name))
		}
		if plan.Delay < 0 {
			err = multierr.Append(err, fmt.Errorf("workflow.%s.delay 不能为负", name))
		}
	}
	if strings.EqualFold(c.Workflow.Kind, "reward_gems") && (c.Workflow.RewardContract == "" || c.Workflow.RewardItem == "") {
		err = multierr.Append(err, errors.New("workflow.reward_contract 与 workflow.reward_item 在 reward_gems 流程下不能为空"))
	}
	if c.Workflow.StartAt != "" {
		if _, parseErr := time.Parse("15:04", c.Workflow.StartAt); parseErr != nil {
			err = multierr.Append(err, errors.New("workflow.start_at 必须是 HH:mm 格式"))
		}
	}

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}

	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		err = multierr.Append(err, errors.New("server.port 必须位于(0,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}
