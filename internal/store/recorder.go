package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"imx-batch/internal/session"
)

// Recorder 将会话日志与会话总结落库，供控制台回看历史会话。
// 写入尽力而为：落库失败只打告警，绝不阻塞编排流程。
type Recorder struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRecorder 初始化记录器并建表。
func NewRecorder(store *Store, logger *zap.Logger) (*Recorder, error) {
	if store == nil {
		return nil, fmt.Errorf("store: recorder 需要非空存储")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Recorder{
		db:     store.DB(),
		logger: logger,
	}

	if err := r.initSchema(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Recorder) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS session_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	seq INTEGER NOT NULL,
	group_label TEXT NOT NULL,
	message TEXT NOT NULL,
	severity TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_logs_group ON session_logs(group_label);
CREATE TABLE IF NOT EXISTS session_summaries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`
	if _, err := r.db.Exec(stmt); err != nil {
		return fmt.Errorf("store: 初始化会话表失败: %w", err)
	}
	return nil
}

// Record 实现 session.Sink。
func (r *Recorder) Record(entry session.Entry) {
	_, err := r.db.Exec(
		`INSERT INTO session_logs (seq, group_label, message, severity, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.Seq, entry.Group, entry.Message, string(entry.Severity), entry.At.Format(time.RFC3339Nano),
	)
	if err != nil {
		r.logger.Warn("写入会话日志失败", zap.Error(err))
	}
}

// RecordSummary 写入一条会话总结。
func (r *Recorder) RecordSummary(ctx context.Context, summary session.Summary) {
	payload, err := json.Marshal(summary)
	if err != nil {
		r.logger.Warn("序列化会话总结失败", zap.Error(err))
		return
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO session_summaries (payload, created_at) VALUES (?, ?)`,
		string(payload), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		r.logger.Warn("写入会话总结失败", zap.Error(err))
	}
}

// ListEntries 按写入顺序返回历史日志，group 为空时不过滤。
func (r *Recorder) ListEntries(ctx context.Context, group string, limit int) ([]session.Entry, error) {
	if limit <= 0 {
		limit = 200
	}

	query := `SELECT seq, group_label, message, severity, created_at FROM session_logs`
	args := make([]interface{}, 0, 2)
	if group != "" {
		query += ` WHERE group_label = ?`
		args = append(args, group)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: 查询会话日志失败: %w", err)
	}
	defer rows.Close()

	entries := make([]session.Entry, 0, limit)
	for rows.Next() {
		var entry session.Entry
		var severity, createdAt string
		if err := rows.Scan(&entry.Seq, &entry.Group, &entry.Message, &severity, &createdAt); err != nil {
			return nil, fmt.Errorf("store: 扫描会话日志失败: %w", err)
		}
		entry.Severity = session.Severity(severity)
		if ts, parseErr := time.Parse(time.RFC3339Nano, createdAt); parseErr == nil {
			entry.At = ts
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: 遍历会话日志失败: %w", err)
	}

	// 翻转为时间正序
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	return entries, nil
}
