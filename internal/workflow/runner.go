package workflow

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"imx-batch/internal/account"
	"imx-batch/internal/session"
)

// Mode 控制分组之间的调度方式。
type Mode string

const (
	// ModeSequential 按序执行分组，组间插入固定延迟。
	ModeSequential Mode = "sequential"
	// ModeConcurrent 并发执行全部分组，单组失败不影响其他分组。
	ModeConcurrent Mode = "concurrent"
)

// sessionScope 为会话级日志的分组标签。
const sessionScope = "[session]"

// Workflow 绑定一个可对单分组执行的流程。
type Workflow struct {
	Name string
	Run  func(ctx context.Context, env Env, group *account.Group) error
}

// RunnerConfig 为一次会话的调度参数。
type RunnerConfig struct {
	Mode            Mode
	InterGroupDelay time.Duration
	// StartAt 非零时，会话先等到该时刻再开跑。
	StartAt time.Time
}

// Runner 驱动一次完整会话：启动门禁、分组调度、总结收尾。
// 无论分组成败，会话总会以 End session 与执行耗时两行日志收尾。
type Runner struct {
	log    *session.Log
	logger *zap.Logger
}

// NewRunner 创建运行器。
func NewRunner(log *session.Log, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{log: log, logger: logger}
}

// Run 对全部分组执行一次工作流并返回会话总结。
// 分组内的错误到此为止：记日志、计入失败数，不再向调用方传播。
func (r *Runner) Run(ctx context.Context, cfg Config, rcfg RunnerConfig, groups []*account.Group, wf Workflow) (summary session.Summary) {
	started := time.Now()
	summary = session.Summary{StartedAt: started.UTC(), Groups: len(groups)}

	var failed int64

	defer func() {
		if rec := recover(); rec != nil {
			atomic.AddInt64(&failed, 1)
			r.log.Append(sessionScope, fmt.Sprintf("panic: %v", rec), session.SeverityError)
			r.logger.Error("会话执行 panic", zap.Any("panic", rec))
		}
		summary.FinishedAt = time.Now().UTC()
		summary.Duration = time.Since(started)
		summary.Failed = int(atomic.LoadInt64(&failed))
		r.log.Finalize(sessionScope, summary)
	}()

	r.log.Append(sessionScope, fmt.Sprintf("Start session: %s", wf.Name), session.SeverityInfo)

	if !rcfg.StartAt.IsZero() {
		if wait := time.Until(rcfg.StartAt); wait > 0 {
			r.log.Append(sessionScope, fmt.Sprintf("Waiting until %s ...", rcfg.StartAt.Format(time.RFC3339)), session.SeverityInfo)
			if err := cfg.sleep(ctx, wait); err != nil {
				r.log.Append(sessionScope, err.Error(), session.SeverityError)
				return summary
			}
		}
	}

	runGroup := func(ctx context.Context, group *account.Group) {
		defer func() {
			if rec := recover(); rec != nil {
				atomic.AddInt64(&failed, 1)
				r.log.Append(group.Label, fmt.Sprintf("panic: %v", rec), session.SeverityError)
				r.logger.Error("分组执行 panic",
					zap.String("group", group.Label),
					zap.Any("panic", rec),
				)
			}
		}()

		env := Env{
			Log:    r.log,
			Logger: r.logger.With(zap.String("group", group.Label)),
			Group:  group.Label,
		}
		env.pushf(session.SeverityInfo, "---------- %s is processing! ----------", group.Label)

		if err := wf.Run(ctx, env, group); err != nil {
			atomic.AddInt64(&failed, 1)
			env.push(err.Error(), session.SeverityError)
			return
		}
		env.pushf(session.SeveritySuccess, "---------- %s is done! ----------", group.Label)
	}

	switch rcfg.Mode {
	case ModeConcurrent:
		var eg errgroup.Group
		for _, group := range groups {
			eg.Go(func() error {
				runGroup(ctx, group)
				return nil
			})
		}
		_ = eg.Wait()
	default:
		for i, group := range groups {
			if ctx.Err() != nil {
				break
			}
			runGroup(ctx, group)
			if i < len(groups)-1 && rcfg.InterGroupDelay > 0 {
				r.log.Append(sessionScope, fmt.Sprintf("Delay %s before next file ...", rcfg.InterGroupDelay), session.SeverityInfo)
				if err := cfg.sleep(ctx, rcfg.InterGroupDelay); err != nil {
					break
				}
			}
		}
	}

	return summary
}
