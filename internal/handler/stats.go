package handler

import (
	"net/http"
)

// Stats 已提交排班的评分、覆盖率与公平性报告
func (h *OptimizeHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req RangeRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	report, err := h.optimizer.Report(r.Context(), req.Scope())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}
