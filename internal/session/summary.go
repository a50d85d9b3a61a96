package session

import (
	"fmt"
	"time"
)

// Summary 描述一次完整批量会话的收尾信息。
type Summary struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Groups     int           `json:"groups"`
	Failed     int           `json:"failed"`
}

// Finalize 追加会话收尾日志。无论工作流成功、部分失败还是中途出错，
// 调用方都必须保证执行到这里（defer 路径）。
func (l *Log) Finalize(group string, summary Summary) {
	l.Append(group, "End session!", SeverityInfo)
	l.Append(group, fmt.Sprintf("Execution time: %d ms", summary.Duration.Milliseconds()), SeveritySuccess)
}
