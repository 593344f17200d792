package handler

import (
	"net/http"

	"github.com/paiban/staffplan/internal/constraints"
	"github.com/paiban/staffplan/pkg/scoring"
)

// ConstraintHandler 约束目录
type ConstraintHandler struct {
	library constraints.LibraryResponse
}

// NewConstraintHandler 按生效的评分权重生成约束目录
func NewConstraintHandler(weights scoring.Weights) *ConstraintHandler {
	return &ConstraintHandler{library: constraints.GetLibrary(weights)}
}

// Library 返回各阶段规则与评分项
func (h *ConstraintHandler) Library(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	respondJSON(w, http.StatusOK, h.library)
}

// Register 注册约束目录路由
func (h *ConstraintHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/constraints", h.Library)
}
