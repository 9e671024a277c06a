package handler

import "net/http"

// DashboardHandler はダッシュボードAPIのハンドラー。
type DashboardHandler struct {
	loader DashboardLoader
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(loader DashboardLoader) *DashboardHandler {
	return &DashboardHandler{loader: loader}
}

// Get は会議・タスクと集計値を返す。読み込みに失敗した側は空になる。
// GET /api/dashboard
func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, toDashboardResponse(h.loader.Load(r.Context(), userID)))
}
