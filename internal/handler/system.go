package handler

import (
	"context"
	"net/http"
	"time"
)

// BuildInfo 构建信息
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}

// HealthCheck 依赖检查，返回错误表示不可用
type HealthCheck func(ctx context.Context) error

// SystemHandler 系统端点
type SystemHandler struct {
	service string
	build   BuildInfo
	checks  map[string]HealthCheck
}

// NewSystemHandler 创建系统处理器
func NewSystemHandler(service string, build BuildInfo) *SystemHandler {
	return &SystemHandler{service: service, build: build, checks: make(map[string]HealthCheck)}
}

// AddCheck 添加健康检查项
func (h *SystemHandler) AddCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// Health 健康检查，任一依赖失败返回 503
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	body := map[string]interface{}{
		"status":  "ok",
		"service": h.service,
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if len(deps) > 0 {
		body["dependencies"] = deps
	}
	respondJSON(w, status, body)
}

// Version 版本信息
func (h *SystemHandler) Version(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.build)
}

// Register 注册系统路由
func (h *SystemHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/version", h.Version)
}
