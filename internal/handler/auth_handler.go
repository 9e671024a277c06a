// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/meetsprint/internal/middleware"
	"github.com/hitoshi/meetsprint/internal/model"
)

// AuthHandler はOAuth認証とセッションのAPIハンドラー。
type AuthHandler struct {
	contexts *authContextFactory
}

// NewAuthHandler はAuthHandlerを生成する。eventsはnilでもよい。
func NewAuthHandler(service AuthServiceInterface, profiles ProfileServiceInterface, events SessionEventSource, cookie middleware.CookieConfig) *AuthHandler {
	return &AuthHandler{
		contexts: &authContextFactory{auth: service, profiles: profiles, events: events, cookie: cookie},
	}
}

type createSessionRequest struct {
	Code string `json:"code"`
}

// RedirectURL はGoogleの認可URLを返す。
// GET /api/oauth/google/redirect_url
func (h *AuthHandler) RedirectURL(w http.ResponseWriter, r *http.Request) {
	ac, _ := h.contexts.open(w, r)
	defer ac.Close()

	url, err := ac.SignIn(r.Context(), "")
	if err != nil {
		slog.Error("failed to build oauth url", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"redirectUrl": url})
}

// CreateSession は認可コードをセッションに交換し、セッションCookieを設定する。
// POST /api/sessions
func (h *AuthHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMissingCodeError())
		return
	}

	ac, _ := h.contexts.open(w, r)
	defer ac.Close()

	next, err := ac.HandleAuthCallback(r.Context(), req.Code)
	if err != nil {
		slog.Warn("session exchange failed", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "redirectTo": next})
}

type meResponse struct {
	User      *userResponse    `json:"user"`
	Profile   *profileResponse `json:"profile"`
	Transient bool             `json:"transient"`
}

// Me は現在のユーザーとプロフィールを返す。プロフィールがなければ作成する。
// GET /api/users/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ac, _ := h.contexts.open(w, r)
	defer ac.Close()

	ac.Initialize(r.Context())
	state := ac.State()
	if !state.IsAuthenticated() {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		User:      toUserResponse(state.User),
		Profile:   toProfileResponse(state.Profile),
		Transient: state.Profile != nil && state.Profile.Transient,
	})
}

// Logout はセッションを破棄してCookieを削除する。
// GET /api/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ac, _ := h.contexts.open(w, r)
	defer ac.Close()

	if err := ac.SignOut(r.Context()); err != nil {
		// Cookieは削除済みなのでクライアントからはログアウトしている
		slog.Error("failed to logout", slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
