package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"imx-batch/internal/session"
	"imx-batch/internal/store"
)

// summaryHolder 保存最近一次会话总结，供控制台查询。
type summaryHolder struct {
	mu      sync.Mutex
	summary *session.Summary
}

func (h *summaryHolder) set(s session.Summary) {
	h.mu.Lock()
	h.summary = &s
	h.mu.Unlock()
}

func (h *summaryHolder) get() (session.Summary, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.summary == nil {
		return session.Summary{}, false
	}
	return *h.summary, true
}

type consoleDeps struct {
	log      *session.Log
	recorder *store.Recorder
	summary  *summaryHolder
}

func parseLimit(r *http.Request) int {
	limit := 200
	if qs := r.URL.Query().Get("limit"); qs != "" {
		if v, err := strconv.Atoi(qs); err == nil && v > 0 {
			if v > 1000 {
				v = 1000
			}
			limit = v
		}
	}
	return limit
}

func startConsoleServer(ctx context.Context, deps consoleDeps, port int, logger *zap.Logger) {
	mux := http.NewServeMux()

	mux.HandleFunc("/logs", func(w http.ResponseWriter, r *http.Request) {
		limit := parseLimit(r)
		group := strings.TrimSpace(r.URL.Query().Get("group"))

		entries := deps.log.Entries(group)
		if len(entries) > limit {
			entries = entries[len(entries)-limit:]
		}
		writeJSON(w, entries, logger)
	})

	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		limit := parseLimit(r)
		group := strings.TrimSpace(r.URL.Query().Get("group"))

		entries, err := deps.recorder.ListEntries(r.Context(), group, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, entries, logger)
	})

	mux.HandleFunc("/stream", streamLogs(deps.log))

	mux.HandleFunc("/summary", func(w http.ResponseWriter, r *http.Request) {
		summary, ok := deps.summary.get()
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, summary, logger)
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭控制台服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("控制台服务异常", zap.Error(err))
		}
	}()

	logger.Info("控制台接口已启动", zap.String("addr", addr))
}

// streamLogs 以 NDJSON 推送实时会话日志，连接断开时结束订阅。
// 订阅缓冲写满时新条目会被丢弃，消费慢的客户端只保证看到最近的日志。
func streamLogs(log *session.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		entries, cancel := log.Subscribe(64)
		defer cancel()

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		enc := json.NewEncoder(w)
		for {
			select {
			case <-r.Context().Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				if err := enc.Encode(entry); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, payload interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("写入控制台响应失败", zap.Error(err))
	}
}
