// Package session 维护一次批量会话的审计日志。
// 日志即错误通道：所有失败与告警都以带级别的日志行呈现给 UI。
package session

import (
	"sync"
	"time"
)

// Severity 表示日志行级别。
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Entry 为一条会话日志。追加后不可变、不可删除、不可重排。
type Entry struct {
	Seq      int       `json:"seq"`
	Group    string    `json:"group"`
	Message  string    `json:"message"`
	Severity Severity  `json:"severity"`
	At       time.Time `json:"at"`
}

// Sink 接收每条落库的日志行，尽力而为，失败不阻塞会话。
type Sink interface {
	Record(Entry)
}

// Log 为追加式会话日志。Append 永不失败、永不阻塞；
// 并发分组各自追加时，单条日志的可见性是原子的。
type Log struct {
	mu      sync.Mutex
	entries []Entry
	subs    map[int]chan Entry
	nextSub int
	sink    Sink
}

// NewLog 创建会话日志；sink 可为 nil。
func NewLog(sink Sink) *Log {
	return &Log{
		subs: make(map[int]chan Entry),
		sink: sink,
	}
}

// Append 追加一条日志。
func (l *Log) Append(group, message string, severity Severity) {
	if severity == "" {
		severity = SeverityInfo
	}

	l.mu.Lock()
	entry := Entry{
		Seq:      len(l.entries),
		Group:    group,
		Message:  message,
		Severity: severity,
		At:       time.Now().UTC(),
	}
	l.entries = append(l.entries, entry)
	for _, sub := range l.subs {
		select {
		case sub <- entry:
		default:
			// 订阅方消费过慢时丢弃推送，快照接口仍然完整。
		}
	}
	sink := l.sink
	l.mu.Unlock()

	if sink != nil {
		sink.Record(entry)
	}
}

// Entries 返回指定分组的日志快照；group 为空时返回全部。
func (l *Log) Entries(group string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, len(l.entries))
	for _, entry := range l.entries {
		if group != "" && entry.Group != group {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// Len 返回当前日志条数。
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Subscribe 返回日志推送通道及取消函数，供 UI 实时渲染。
func (l *Log) Subscribe(buffer int) (<-chan Entry, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Entry, buffer)

	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		if sub, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(sub)
		}
		l.mu.Unlock()
	}
	return ch, cancel
}
