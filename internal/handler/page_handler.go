package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/meetsprint/internal/authctx"
	"github.com/hitoshi/meetsprint/internal/dashboard"
	"github.com/hitoshi/meetsprint/internal/guard"
	"github.com/hitoshi/meetsprint/internal/middleware"
)

const (
	loginPath       = "/auth/login"
	authFailedQuery = "auth_failed"
)

// DashboardLoader はダッシュボードのデータを読み込む。
type DashboardLoader interface {
	Load(ctx context.Context, userID string) *dashboard.Data
}

// PageHandler はページのルートを処理する。
// 各ルートではリクエストごとにauthctx.Contextを初期化し、ガードの判定に従う。
type PageHandler struct {
	contexts  *authContextFactory
	dashboard DashboardLoader
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(service AuthServiceInterface, profiles ProfileServiceInterface, events SessionEventSource, dash DashboardLoader, cookie middleware.CookieConfig) *PageHandler {
	return &PageHandler{
		contexts:  &authContextFactory{auth: service, profiles: profiles, events: events, cookie: cookie},
		dashboard: dash,
	}
}

type homeResponse struct {
	Authenticated bool             `json:"authenticated"`
	LoginURL      string           `json:"loginUrl"`
	User          *userResponse    `json:"user,omitempty"`
	Profile       *profileResponse `json:"profile,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// Home はランディングページの状態を返す。
// GET /
func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	ac, _ := h.contexts.open(w, r)
	defer ac.Close()

	ac.Initialize(r.Context())
	state := ac.State()
	writeJSON(w, http.StatusOK, homeResponse{
		Authenticated: state.IsAuthenticated(),
		LoginURL:      loginPath,
		User:          toUserResponse(state.User),
		Profile:       toProfileResponse(state.Profile),
		Error:         r.URL.Query().Get("error"),
	})
}

// Login はGoogleのOAuthフローを開始する。
// GET /auth/login
func (h *PageHandler) Login(w http.ResponseWriter, r *http.Request) {
	ac, _ := h.contexts.open(w, r)
	defer ac.Close()

	target, err := ac.SignIn(r.Context(), "")
	if err != nil {
		slog.Error("failed to start sign-in", slog.String("error", err.Error()))
		redirectAuthFailed(w, r)
		return
	}
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理し、次のページにリダイレクトする。
// GET /auth/callback?code=xxx&state=yyy
func (h *PageHandler) Callback(w http.ResponseWriter, r *http.Request) {
	ac, store := h.contexts.open(w, r)
	defer ac.Close()

	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	store.clearStateCookie()
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch")
		redirectAuthFailed(w, r)
		return
	}

	// 2. 認可コードの取得。IdPがerrorを返した場合もここで弾く
	code := r.URL.Query().Get("code")
	if code == "" {
		slog.Warn("oauth callback without code", slog.String("idp_error", r.URL.Query().Get("error")))
		redirectAuthFailed(w, r)
		return
	}

	// 3. セッション発行とプロフィール解決
	next, err := ac.HandleAuthCallback(r.Context(), code)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		redirectAuthFailed(w, r)
		return
	}

	http.Redirect(w, r, next, http.StatusFound)
}

type onboardingView struct {
	User      *userResponse    `json:"user"`
	Profile   *profileResponse `json:"profile"`
	CSRFToken string           `json:"csrfToken"`
	Action    string           `json:"action"`
}

// Onboarding は組織作成ページを返す。所属済みならダッシュボードへリダイレクトする。
// GET /onboarding
func (h *PageHandler) Onboarding(w http.ResponseWriter, r *http.Request) {
	state, ok := h.guarded(w, r, authctx.RouteOnboarding)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, onboardingView{
		User:      toUserResponse(state.User),
		Profile:   toProfileResponse(state.Profile),
		CSRFToken: middleware.CSRFTokenFromRequest(r),
		Action:    "/api/organizations",
	})
}

type dashboardView struct {
	User    *userResponse    `json:"user"`
	Profile *profileResponse `json:"profile"`
	dashboardResponse
}

// Dashboard はダッシュボードページを返す。
// 未ログインならデータを読み込まずに"/"へリダイレクトする。
// GET /dashboard
func (h *PageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	state, ok := h.guarded(w, r, authctx.RouteDashboard)
	if !ok {
		return
	}

	data := h.dashboard.Load(r.Context(), state.User.ID)
	writeJSON(w, http.StatusOK, dashboardView{
		User:              toUserResponse(state.User),
		Profile:           toProfileResponse(state.Profile),
		dashboardResponse: toDashboardResponse(data),
	})
}

// Logout はセッションを破棄してトップページへリダイレクトする。
// POST /auth/logout
func (h *PageHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ac, _ := h.contexts.open(w, r)
	defer ac.Close()

	if err := ac.SignOut(r.Context()); err != nil {
		slog.Error("failed to logout", slog.String("error", err.Error()))
	}
	http.Redirect(w, r, authctx.RouteHome, http.StatusSeeOther)
}

// guarded は認証状態を初期化してガードを評価する。
// 判定がProceedのときだけ状態とtrueを返し、それ以外はレスポンスを書き込む。
func (h *PageHandler) guarded(w http.ResponseWriter, r *http.Request, route string) (authctx.State, bool) {
	ac, _ := h.contexts.open(w, r)
	defer ac.Close()

	var decision guard.Decision
	sub := guard.Watch(ac, route, func(d guard.Decision) { decision = d })
	defer sub.Unsubscribe()

	ac.Initialize(r.Context())

	switch decision.Outcome {
	case guard.Redirect:
		http.Redirect(w, r, decision.Location, http.StatusFound)
		return authctx.State{}, false
	case guard.Proceed:
		return ac.State(), true
	default:
		// Initialize後に読み込み中のままになることはない
		slog.Error("guard did not settle", slog.String("route", route), slog.String("outcome", decision.Outcome.String()))
		middleware.WriteInternalServerError(w)
		return authctx.State{}, false
	}
}

func redirectAuthFailed(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, authctx.RouteHome+"?error="+url.QueryEscape(authFailedQuery), http.StatusFound)
}
