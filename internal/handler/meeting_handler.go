package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/meetsprint/internal/meeting"
	"github.com/hitoshi/meetsprint/internal/model"
	"github.com/hitoshi/meetsprint/internal/repository"
)

// maxListLimit は一覧取得の件数上限。
const maxListLimit = 200

// MeetingServiceInterface は会議ハンドラーが必要とするサービスインターフェース。
type MeetingServiceInterface interface {
	List(ctx context.Context, userID string, filter repository.MeetingFilter) ([]*model.Meeting, error)
	Create(ctx context.Context, userID string, in meeting.CreateInput) (*model.Meeting, error)
	ChangeStatus(ctx context.Context, userID, meetingID, status string) (*model.Meeting, error)
	SetTranscription(ctx context.Context, userID, meetingID, text string) (*model.Meeting, error)
	// ImportTranscription はURLから文字起こしを取得して保存する。
	ImportTranscription(ctx context.Context, userID, meetingID, rawURL string) (*model.Meeting, error)
}

// MeetingHandler は会議管理のHTTPハンドラー。
type MeetingHandler struct {
	service MeetingServiceInterface
}

// NewMeetingHandler はMeetingHandlerを生成する。
func NewMeetingHandler(service MeetingServiceInterface) *MeetingHandler {
	return &MeetingHandler{service: service}
}

type createMeetingRequest struct {
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Date            *time.Time `json:"date"`
	DurationMinutes *int       `json:"durationMinutes"`
	VideoURL        *string    `json:"videoUrl"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type transcriptionRequest struct {
	Transcription string `json:"transcription"`
}

type importTranscriptionRequest struct {
	URL string `json:"url"`
}

// List は会議一覧を開催日時の降順で返す。
// GET /api/meetings?status=scheduled&limit=20
func (h *MeetingHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var filter repository.MeetingFilter
	if s := r.URL.Query().Get("status"); s != "" {
		status, err := model.ParseMeetingStatus(s)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidStatusError(s))
			return
		}
		filter.Status = &status
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	filter.Limit = limit

	meetings, err := h.service.List(r.Context(), userID, filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMeetingResponses(meetings))
}

// Create は会議を作成する。
// POST /api/meetings
func (h *MeetingHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createMeetingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := h.service.Create(r.Context(), userID, meeting.CreateInput{
		Title:           req.Title,
		Description:     req.Description,
		Date:            req.Date,
		DurationMinutes: req.DurationMinutes,
		VideoURL:        req.VideoURL,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMeetingResponse(m))
}

// ChangeStatus は会議の状態を遷移させる。
// PATCH /api/meetings/{id}/status
func (h *MeetingHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := h.service.ChangeStatus(r.Context(), userID, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMeetingResponse(m))
}

// SetTranscription は文字起こしを保存する。
// PUT /api/meetings/{id}/transcription
func (h *MeetingHandler) SetTranscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req transcriptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := h.service.SetTranscription(r.Context(), userID, chi.URLParam(r, "id"), req.Transcription)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMeetingResponse(m))
}

// ImportTranscription は外部URLから文字起こしを取り込む。
// POST /api/meetings/{id}/transcription/import
func (h *MeetingHandler) ImportTranscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req importTranscriptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.URL == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError("URLを指定してください"))
		return
	}

	m, err := h.service.ImportTranscription(r.Context(), userID, chi.URLParam(r, "id"), req.URL)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMeetingResponse(m))
}

// parseLimit はクエリのlimitを読み取る。未指定は0（上限なし）。
func parseLimit(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 || n > maxListLimit {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("limitは1から200の範囲で指定してください"))
		return 0, false
	}
	return n, true
}
