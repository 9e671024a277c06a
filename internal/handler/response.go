package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/meetsprint/internal/dashboard"
	"github.com/hitoshi/meetsprint/internal/middleware"
	"github.com/hitoshi/meetsprint/internal/model"
)

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeInvalidRequest, model.ErrCodeMissingCode, model.ErrCodeUnsupportedProvider,
		model.ErrCodeInvalidOrgName, model.ErrCodeInvalidTitle, model.ErrCodeInvalidStatus,
		model.ErrCodeInvalidPriority, model.ErrCodeInvalidURL, model.ErrCodeInvalidAssignee:
		return http.StatusBadRequest
	case model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound, model.ErrCodeMeetingNotFound, model.ErrCodeTaskNotFound:
		return http.StatusNotFound
	case model.ErrCodeAlreadyOnboarded, model.ErrCodeInvalidTransition, model.ErrCodeNoOrganization:
		return http.StatusConflict
	case model.ErrCodeFetchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをデコードする。失敗した場合は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディが不正です"))
		return false
	}
	return true
}

const maxRequestBodySize = 1 << 20

// requireUserID はセッションミドルウェアが注入したユーザーIDを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

func toUserResponse(u *model.User) *userResponse {
	if u == nil {
		return nil
	}
	return &userResponse{ID: u.ID, Email: u.Email, Name: u.Name, AvatarURL: u.AvatarURL}
}

type profileResponse struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	FullName       string    `json:"fullName"`
	AvatarURL      string    `json:"avatarUrl,omitempty"`
	Role           string    `json:"role"`
	OrganizationID *string   `json:"organizationId"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func toProfileResponse(p *model.Profile) *profileResponse {
	if p == nil {
		return nil
	}
	return &profileResponse{
		ID:             p.ID,
		Email:          p.Email,
		FullName:       p.FullName,
		AvatarURL:      p.AvatarURL,
		Role:           string(p.Role),
		OrganizationID: p.OrganizationID,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

type meetingResponse struct {
	ID              string    `json:"id"`
	OrganizationID  *string   `json:"organizationId"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Date            time.Time `json:"date"`
	DurationMinutes *int      `json:"durationMinutes"`
	VideoURL        *string   `json:"videoUrl"`
	Transcription   *string   `json:"transcription"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func toMeetingResponse(m *model.Meeting) meetingResponse {
	return meetingResponse{
		ID:              m.ID,
		OrganizationID:  m.OrganizationID,
		Title:           m.Title,
		Description:     m.Description,
		Date:            m.Date,
		DurationMinutes: m.DurationMinutes,
		VideoURL:        m.VideoURL,
		Transcription:   m.Transcription,
		Status:          string(m.Status),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func toMeetingResponses(ms []*model.Meeting) []meetingResponse {
	out := make([]meetingResponse, len(ms))
	for i, m := range ms {
		out[i] = toMeetingResponse(m)
	}
	return out
}

type taskResponse struct {
	ID             string     `json:"id"`
	MeetingID      *string    `json:"meetingId"`
	OrganizationID *string    `json:"organizationId"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Status         string     `json:"status"`
	Priority       string     `json:"priority"`
	AssigneeID     *string    `json:"assigneeId"`
	DueDate        *time.Time `json:"dueDate"`
	CreatedBy      string     `json:"createdBy"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func toTaskResponse(t *model.Task) taskResponse {
	return taskResponse{
		ID:             t.ID,
		MeetingID:      t.MeetingID,
		OrganizationID: t.OrganizationID,
		Title:          t.Title,
		Description:    t.Description,
		Status:         string(t.Status),
		Priority:       string(t.Priority),
		AssigneeID:     t.AssigneeID,
		DueDate:        t.DueDate,
		CreatedBy:      t.CreatedBy,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func toTaskResponses(ts []*model.Task) []taskResponse {
	out := make([]taskResponse, len(ts))
	for i, t := range ts {
		out[i] = toTaskResponse(t)
	}
	return out
}

// dashboardResponse はダッシュボードのAPIレスポンス。
type dashboardResponse struct {
	Meetings []meetingResponse `json:"meetings"`
	Tasks    []taskResponse    `json:"tasks"`
	Metrics  dashboard.Summary `json:"metrics"`
}

func toDashboardResponse(d *dashboard.Data) dashboardResponse {
	return dashboardResponse{
		Meetings: toMeetingResponses(d.Meetings),
		Tasks:    toTaskResponses(d.Tasks),
		Metrics:  d.Metrics,
	}
}
