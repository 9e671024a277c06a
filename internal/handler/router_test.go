package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/meetsprint/internal/event"
	"github.com/hitoshi/meetsprint/internal/middleware"
	"github.com/hitoshi/meetsprint/internal/model"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	auth := &mockAuthService{
		resolveTokenFn: func(ctx context.Context, token string) (*model.Session, *model.User, error) {
			if token != "valid" {
				return nil, nil, nil
			}
			s, u := testSession()
			return s, u, nil
		},
	}

	return NewRouter(&RouterDeps{
		Logger:         slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)),
		RateLimiter:    rl,
		Cookie:         testCookieConfig,
		AuthService:    auth,
		ProfileService: profileWith(strPtr("org-1")),
		SessionEvents:  event.NewBus(),
		OrganizationService: &mockOrganizationService{
			createFn: func(ctx context.Context, ownerID, name string) (*model.Organization, error) {
				return nil, model.NewAlreadyOnboardedError()
			},
		},
		MeetingService: &mockMeetingService{},
		TaskService:    &mockTaskService{},
		Dashboard:      &mockDashboardLoader{},
		UserService:    &mockUserService{},
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics"))
		}),
	})
}

func TestRouter_PublicEndpoints(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/health", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/api/csrf-token", http.StatusOK},
		{"/", http.StatusOK},
		{"/api/oauth/google/redirect_url", http.StatusOK},
		{"/auth/login", http.StatusTemporaryRedirect},
		{"/dashboard", http.StatusFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if w.Code != tt.wantStatus {
				t.Errorf("GET %s status = %d, want %d", tt.path, w.Code, tt.wantStatus)
			}
		})
	}
}

func TestRouter_ProtectedAPIRequiresSession(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/api/users/me", "/api/dashboard", "/api/meetings", "/api/tasks"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("GET %s status = %d, want 401", path, w.Code)
		}
	}
}

func TestRouter_AuthenticatedRequests(t *testing.T) {
	router := newTestRouter(t)

	t.Run("ユーザー情報", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "valid"})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})

	t.Run("組織所属済みのダッシュボードページ", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "valid"})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})

	t.Run("組織作成はCSRFトークンが必要", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/organizations", strings.NewReader(`{"name":"Acme"}`))
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "valid"})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", w.Code)
		}
	})

	t.Run("作成済みの組織作成は409", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/organizations", strings.NewReader(`{"name":"Acme"}`))
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "valid"})
		req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "tok"})
		req.Header.Set("X-CSRF-Token", "tok")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", w.Code)
		}
	})
}
