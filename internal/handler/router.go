package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/meetsprint/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	HTTPMetrics       middleware.HTTPMetrics
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Cookie            middleware.CookieConfig
	HSTS              bool

	// 認証
	AuthService    AuthServiceInterface
	ProfileService ProfileServiceInterface
	SessionEvents  SessionEventSource

	// ドメイン
	OrganizationService OrganizationServiceInterface
	MeetingService      MeetingServiceInterface
	TaskService         TaskServiceInterface
	Dashboard           DashboardLoader
	UserService         UserServiceInterface

	// 運用
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → CSRF → Session → RateLimit(General)
//
// ページのルートはセッションを任意とし、ガードで遷移先を決める。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	csrf := middleware.CSRFConfig{CookieSecure: deps.Cookie.Secure, CookieDomain: deps.Cookie.Domain}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.HTTPMetrics))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewCSRFMiddleware(csrf))

	authHandler := NewAuthHandler(deps.AuthService, deps.ProfileService, deps.SessionEvents, deps.Cookie)
	pageHandler := NewPageHandler(deps.AuthService, deps.ProfileService, deps.SessionEvents, deps.Dashboard, deps.Cookie)
	orgHandler := NewOrganizationHandler(deps.OrganizationService)
	meetingHandler := NewMeetingHandler(deps.MeetingService)
	taskHandler := NewTaskHandler(deps.TaskService)
	dashboardHandler := NewDashboardHandler(deps.Dashboard)
	userHandler := NewUserHandler(deps.UserService, deps.Cookie)

	// --- 運用 ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(csrf).ServeHTTP)

	// --- ページ（セッション任意） ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewOptionalSessionMiddleware(deps.AuthService, deps.Cookie))

		r.Get("/", pageHandler.Home)
		r.Get("/auth/login", pageHandler.Login)
		r.Get("/auth/callback", pageHandler.Callback)
		r.Get("/onboarding", pageHandler.Onboarding)
		r.Get("/dashboard", pageHandler.Dashboard)
		r.Post("/auth/logout", pageHandler.Logout)

		// セッションAPI
		r.Get("/api/oauth/google/redirect_url", authHandler.RedirectURL)
		r.Post("/api/sessions", authHandler.CreateSession)
		r.Get("/api/logout", authHandler.Logout)
	})

	// --- 認証が必要なAPI ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.AuthService, deps.Cookie))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/users", func(r chi.Router) {
			r.Get("/me", authHandler.Me)
			r.Delete("/me", userHandler.Withdraw)
		})

		// POST /api/organizations - オンボーディング（組織作成専用レート制限を追加）
		r.With(deps.RateLimiter.OnboardingMiddleware()).Post("/api/organizations", orgHandler.Create)

		r.Get("/api/dashboard", dashboardHandler.Get)

		r.Route("/api/meetings", func(r chi.Router) {
			r.Get("/", meetingHandler.List)
			r.Post("/", meetingHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Patch("/status", meetingHandler.ChangeStatus)
				r.Put("/transcription", meetingHandler.SetTranscription)
				r.Post("/transcription/import", meetingHandler.ImportTranscription)
			})
		})

		r.Route("/api/tasks", func(r chi.Router) {
			r.Get("/", taskHandler.List)
			r.Post("/", taskHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Patch("/status", taskHandler.ChangeStatus)
				r.Put("/assignee", taskHandler.Assign)
			})
		})
	})

	return r
}
