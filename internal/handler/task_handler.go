package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/meetsprint/internal/model"
	"github.com/hitoshi/meetsprint/internal/repository"
	"github.com/hitoshi/meetsprint/internal/task"
)

// TaskServiceInterface はタスクハンドラーが必要とするサービスインターフェース。
type TaskServiceInterface interface {
	List(ctx context.Context, userID string, filter repository.TaskFilter) ([]*model.Task, error)
	Create(ctx context.Context, userID string, in task.CreateInput) (*model.Task, error)
	// ChangeStatus はタスクを前方にのみ移動する。
	ChangeStatus(ctx context.Context, userID, taskID, status string) (*model.Task, error)
	// Assign は担当者を設定する。assigneeIDがnilの場合は担当を外す。
	Assign(ctx context.Context, userID, taskID string, assigneeID *string) (*model.Task, error)
}

// TaskHandler はタスク管理のHTTPハンドラー。
type TaskHandler struct {
	service TaskServiceInterface
}

// NewTaskHandler はTaskHandlerを生成する。
func NewTaskHandler(service TaskServiceInterface) *TaskHandler {
	return &TaskHandler{service: service}
}

type createTaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"`
	MeetingID   *string    `json:"meetingId"`
	AssigneeID  *string    `json:"assigneeId"`
	DueDate     *time.Time `json:"dueDate"`
}

type assigneeRequest struct {
	AssigneeID *string `json:"assigneeId"`
}

// List はタスク一覧を作成日時の降順で返す。
// GET /api/tasks?status=todo&meetingId=xxx&limit=20
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var filter repository.TaskFilter
	if s := q.Get("status"); s != "" {
		status, err := model.ParseTaskStatus(s)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidStatusError(s))
			return
		}
		filter.Status = &status
	}
	if id := q.Get("meetingId"); id != "" {
		filter.MeetingID = &id
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	filter.Limit = limit

	tasks, err := h.service.List(r.Context(), userID, filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponses(tasks))
}

// Create はタスクを作成する。
// POST /api/tasks
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	t, err := h.service.Create(r.Context(), userID, task.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		MeetingID:   req.MeetingID,
		AssigneeID:  req.AssigneeID,
		DueDate:     req.DueDate,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTaskResponse(t))
}

// ChangeStatus はタスクの状態を進める。
// PATCH /api/tasks/{id}/status
func (h *TaskHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	t, err := h.service.ChangeStatus(r.Context(), userID, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(t))
}

// Assign はタスクの担当者を変更する。
// PUT /api/tasks/{id}/assignee
func (h *TaskHandler) Assign(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req assigneeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	t, err := h.service.Assign(r.Context(), userID, chi.URLParam(r, "id"), req.AssigneeID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(t))
}
