// Package app 聚合核心依赖并驱动一次批量会话的完整生命周期。
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"imx-batch/internal/account"
	"imx-batch/internal/config"
	"imx-batch/internal/remote"
	"imx-batch/internal/session"
	"imx-batch/internal/store"
	"imx-batch/internal/workflow"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 加载账户、执行会话并在控制台服务开启时持续对外提供查询。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("批量控制台已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("network", a.cfg.Network.Name),
		zap.String("workflow", a.cfg.Workflow.Kind),
		zap.String("mode", a.cfg.Workflow.Mode),
	)

	factory := remote.NewExchangeFactory(remote.ExchangeConfig{
		Name:       a.cfg.Network.Name,
		Market:     a.cfg.Network.Market,
		UseSandbox: a.cfg.Network.UseSandbox,
	}, a.logger)

	loader := account.NewLoader(factory, a.logger)

	var (
		groups []*account.Group
		err    error
	)
	if len(a.cfg.Accounts.Files) > 0 {
		groups, err = loader.LoadFiles(ctx, a.cfg.Accounts.Files)
	} else {
		groups, err = loader.LoadDir(ctx, a.cfg.Accounts.Dir)
	}
	if err != nil {
		return err
	}

	var root remote.Client
	if a.cfg.Accounts.RootKey != "" {
		root, err = factory(remote.KeyMaterial{
			Key:          a.cfg.Accounts.RootKey,
			SecondaryKey: a.cfg.Accounts.RootSecondaryKey,
		})
		if err != nil {
			return fmt.Errorf("构造根钱包客户端失败: %w", err)
		}
	}

	recorder, err := store.NewRecorder(a.store, a.logger)
	if err != nil {
		return err
	}
	sessionLog := session.NewLog(recorder)

	wfCfg := buildWorkflowConfig(a.cfg.Workflow)
	wf, err := a.buildWorkflow(wfCfg, root)
	if err != nil {
		return err
	}

	startAt, err := nextStartAt(a.cfg.Workflow.StartAt, time.Now())
	if err != nil {
		return err
	}

	holder := &summaryHolder{}
	if a.cfg.Server.Enabled {
		startConsoleServer(ctx, consoleDeps{
			log:      sessionLog,
			recorder: recorder,
			summary:  holder,
		}, a.cfg.Server.Port, a.logger)
	}

	runner := workflow.NewRunner(sessionLog, a.logger)
	summary := runner.Run(ctx, wfCfg, workflow.RunnerConfig{
		Mode:            workflow.Mode(a.cfg.Workflow.Mode),
		InterGroupDelay: a.cfg.Workflow.InterGroupDelay,
		StartAt:         startAt,
	}, groups, wf)

	holder.set(summary)
	recorder.RecordSummary(context.Background(), summary)
	a.logger.Info("会话结束",
		zap.Int("groups", summary.Groups),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", summary.Duration),
	)

	if !a.cfg.Server.Enabled {
		return nil
	}

	// 会话跑完后保留控制台查询，直到收到退出信号。
	<-ctx.Done()
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}

// buildWorkflow 依据配置选择流程。预建订单开关只影响接力类流程。
func (a *App) buildWorkflow(cfg workflow.Config, root remote.Client) (workflow.Workflow, error) {
	preCreate := a.cfg.Workflow.PreCreateOrders

	withPreCreate := func(run func(ctx context.Context, env workflow.Env, group *account.Group) error) func(ctx context.Context, env workflow.Env, group *account.Group) error {
		if !preCreate {
			return run
		}
		return func(ctx context.Context, env workflow.Env, group *account.Group) error {
			prepared, err := workflow.PreCreateOrders(ctx, env, cfg, group)
			if err != nil {
				return err
			}
			return run(ctx, env, prepared)
		}
	}

	switch strings.ToLower(a.cfg.Workflow.Kind) {
	case "relay":
		return workflow.Workflow{
			Name: "relay",
			Run: withPreCreate(func(ctx context.Context, env workflow.Env, group *account.Group) error {
				return workflow.SellFulfillRelay(ctx, env, cfg, group)
			}),
		}, nil
	case "parity":
		return workflow.Workflow{
			Name: "parity",
			Run: withPreCreate(func(ctx context.Context, env workflow.Env, group *account.Group) error {
				return workflow.ParityRelay(ctx, env, cfg, group)
			}),
		}, nil
	case "gems":
		return workflow.Workflow{
			Name: "gems",
			Run: func(ctx context.Context, env workflow.Env, group *account.Group) error {
				return workflow.GemHarvest(ctx, env, cfg, group, root)
			},
		}, nil
	case "reward_gems":
		return workflow.Workflow{
			Name: "reward_gems",
			Run: func(ctx context.Context, env workflow.Env, group *account.Group) error {
				return workflow.RewardTradeHandoff(ctx, env, cfg, group, root)
			},
		}, nil
	case "rewards":
		return workflow.Workflow{
			Name: "rewards",
			Run: func(ctx context.Context, env workflow.Env, group *account.Group) error {
				return workflow.ClaimRewardsFlow(ctx, env, cfg, group)
			},
		}, nil
	default:
		return workflow.Workflow{}, fmt.Errorf("不支持的工作流 %q", a.cfg.Workflow.Kind)
	}
}

func buildWorkflowConfig(cfg config.WorkflowConfig) workflow.Config {
	return workflow.Config{
		SellAmount:     cfg.SellAmount,
		SellVariant:    cfg.SellVariant,
		TransferAmount: cfg.TransferAmount,
		Threshold:      cfg.Threshold,

		FeeReserve: cfg.FeeReserve,
		GasReserve: cfg.GasReserve,
		SweepMin:   cfg.SweepMin,

		SettleDelay:      cfg.SettleDelay,
		ConfirmRetries:   cfg.ConfirmRetries,
		ConfirmDelay:     cfg.ConfirmDelay,
		HopDelay:         cfg.HopDelay,
		BalanceWaitDelay: cfg.BalanceWaitDelay,
		CooldownDelay:    cfg.CooldownDelay,

		AbortOnTransferFailure: cfg.AbortOnTransferFailure,
		SweepEachHop:           cfg.SweepEachHop,

		BalanceRetry:  workflow.RetryPlan(cfg.BalanceRetry),
		TransferRetry: workflow.RetryPlan(cfg.TransferRetry),
		TradeRetry:    workflow.RetryPlan(cfg.TradeRetry),
		ActionRetry:   workflow.RetryPlan(cfg.ActionRetry),
		RewardRetry:   workflow.RetryPlan(cfg.RewardRetry),

		TradeGas:    gasOverrides(cfg.TradeGas),
		TransferGas: gasOverrides(cfg.TransferGas),
		SellGas:     gasOverrides(cfg.SellGas),

		RewardContract: cfg.RewardContract,
		RewardItem:     cfg.RewardItem,
	}
}

func gasOverrides(plan config.GasPlan) *remote.GasOverrides {
	if plan.MaxFeePerGas == 0 && plan.MaxPriorityFeePerGas == 0 && plan.GasLimit == 0 {
		return nil
	}
	return &remote.GasOverrides{
		MaxFeePerGas:         plan.MaxFeePerGas,
		MaxPriorityFeePerGas: plan.MaxPriorityFeePerGas,
		GasLimit:             plan.GasLimit,
	}
}

// nextStartAt 把 HH:mm 解析为下一次到达该时刻的时间点；已过则顺延到明天。
func nextStartAt(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("15:04", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("解析 workflow.start_at 失败: %w", err)
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next, nil
}
