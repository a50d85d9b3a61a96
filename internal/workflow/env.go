package workflow

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"imx-batch/internal/remote"
	"imx-batch/internal/session"
)

// Env 为一个分组执行时的输出环境：会话日志面向操作者，
// zap 日志面向运维排查，二者互不替代。
type Env struct {
	Log    *session.Log
	Logger *zap.Logger
	Group  string
}

func (e Env) push(message string, severity session.Severity) {
	if e.Log != nil {
		e.Log.Append(e.Group, message, severity)
	}
}

func (e Env) pushf(severity session.Severity, format string, args ...interface{}) {
	e.push(fmt.Sprintf(format, args...), severity)
}

// parseBalance 把远端余额字符串解析为数值，无法解析时按 0 处理。
func parseBalance(res remote.BalanceResult) float64 {
	v, err := strconv.ParseFloat(res.Balance, 64)
	if err != nil {
		return 0
	}
	return v
}

// formatAmount 将转账金额截断到 4 位小数，避免把尾数精度发给远端。
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
