package handler

import (
	"net/http"

	"github.com/paiban/staffplan/pkg/engine"
	"github.com/paiban/staffplan/pkg/model"
)

// QualityRecorder 记录运行质量指标
type QualityRecorder interface {
	SetRunQuality(score, coverage, workloadGini, closingGini float64)
}

// OptimizeHandler 优化相关接口
type OptimizeHandler struct {
	optimizer Optimizer
	recorder  QualityRecorder
}

// NewOptimizeHandler 创建优化处理器，recorder 可以为空
func NewOptimizeHandler(optimizer Optimizer, recorder QualityRecorder) *OptimizeHandler {
	return &OptimizeHandler{optimizer: optimizer, recorder: recorder}
}

// OptimizeRequest 优化请求：date 为单日，否则使用 week_start..week_end
type OptimizeRequest struct {
	Date      string        `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	WeekStart string        `json:"week_start,omitempty" validate:"omitempty,datetime=2006-01-02"`
	WeekEnd   string        `json:"week_end,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Phases    []model.Phase `json:"phases,omitempty" validate:"omitempty,dive,oneof=operating_room sites closing_responsible flexible_quota"`
	DryRun    bool          `json:"dry_run"`
}

func (r OptimizeRequest) toEngine() engine.Request {
	return engine.Request{
		Date:      r.Date,
		WeekStart: r.WeekStart,
		WeekEnd:   r.WeekEnd,
		Phases:    r.Phases,
		DryRun:    r.DryRun,
	}
}

// RangeRequest 日期范围请求，end_date 为空时取 start_date 起一周
type RangeRequest struct {
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// Scope 转换为优化范围
func (r RangeRequest) Scope() model.Scope {
	end := r.EndDate
	if end == "" {
		end = model.AddDays(r.StartDate, 6)
	}
	return model.Scope{DateRange: model.DateRange{StartDate: r.StartDate, EndDate: end}}
}

// ApplyRequest 提交预演差异中选定的变更
type ApplyRequest struct {
	RangeRequest
	Changes []model.Change `json:"changes" validate:"required,min=1"`
}

// Optimize 执行优化，dry_run 为 true 时只预演
func (h *OptimizeHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req OptimizeRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	h.run(w, r, req.toEngine())
}

// DryRun 预演优化，不写入
func (h *OptimizeHandler) DryRun(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req OptimizeRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	er := req.toEngine()
	er.DryRun = true
	h.run(w, r, er)
}

func (h *OptimizeHandler) run(w http.ResponseWriter, r *http.Request, req engine.Request) {
	resp, err := h.optimizer.Run(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	if !req.DryRun && h.recorder != nil && resp.Coverage != nil && resp.Fairness != nil {
		h.recorder.SetRunQuality(resp.Score.Total, resp.Coverage.OverallCoverage,
			resp.Fairness.WorkloadGini, resp.Fairness.ClosingGini)
	}
	respondJSON(w, http.StatusOK, resp)
}

// Apply 提交操作员审批的变更
func (h *OptimizeHandler) Apply(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req ApplyRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	result, err := h.optimizer.Apply(r.Context(), req.Scope(), req.Changes)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Forecast 理论产能预测
func (h *OptimizeHandler) Forecast(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req RangeRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	result, err := h.optimizer.Forecast(r.Context(), req.Scope())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Register 注册优化相关路由
func (h *OptimizeHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/optimize", h.Optimize)
	mux.HandleFunc("/api/v1/optimize/dry-run", h.DryRun)
	mux.HandleFunc("/api/v1/optimize/apply", h.Apply)
	mux.HandleFunc("/api/v1/forecast", h.Forecast)
	mux.HandleFunc("/api/v1/stats", h.Stats)
}
