package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// TestCSRF_SafeMethodIssuesCookie は安全なメソッドでトークンCookieが発行されることを検証する。
func TestCSRF_SafeMethodIssuesCookie(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{CookieSecure: true})(okHandler())

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(method, "/api/dashboard", nil))

			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", w.Code)
			}
			c := findCookie(w.Result().Cookies(), csrfCookieName)
			if c == nil {
				t.Fatal("csrf cookie not set")
			}
			if len(c.Value) != 64 || c.HttpOnly || !c.Secure {
				t.Errorf("cookie = %+v", c)
			}
		})
	}
}

func TestCSRF_SafeMethodKeepsExistingCookie(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{})(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if findCookie(w.Result().Cookies(), csrfCookieName) != nil {
		t.Error("existing cookie should not be replaced")
	}
}

func TestCSRF_StateChangingMethods(t *testing.T) {
	tests := []struct {
		name       string
		cookie     string
		header     string
		wantStatus int
	}{
		{"一致", "tok", "tok", http.StatusOK},
		{"Cookieなし", "", "tok", http.StatusForbidden},
		{"ヘッダーなし", "tok", "", http.StatusForbidden},
		{"不一致", "tok", "other", http.StatusForbidden},
	}

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		for _, tt := range tests {
			t.Run(method+"/"+tt.name, func(t *testing.T) {
				handler := NewCSRFMiddleware(CSRFConfig{})(okHandler())
				req := httptest.NewRequest(method, "/api/organizations", nil)
				if tt.cookie != "" {
					req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
				}
				if tt.header != "" {
					req.Header.Set(csrfHeaderName, tt.header)
				}
				w := httptest.NewRecorder()
				handler.ServeHTTP(w, req)

				if w.Code != tt.wantStatus {
					t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
				}
				if tt.wantStatus == http.StatusForbidden {
					var body ErrorResponseBody
					if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
						t.Fatalf("failed to decode body: %v", err)
					}
					if body.Code != "CSRF_TOKEN_INVALID" {
						t.Errorf("code = %q", body.Code)
					}
				}
			})
		}
	}
}

// HTMLフォームのcsrf_tokenフィールドでも検証できること
func TestCSRF_FormField(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{})(okHandler())
	form := url.Values{"csrf_token": {"tok"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "tok"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestCSRFTokenHandler(t *testing.T) {
	t.Run("新規発行", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewCSRFTokenHandler(CSRFConfig{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		c := findCookie(w.Result().Cookies(), csrfCookieName)
		if c == nil || c.Value != body.Token || body.Token == "" {
			t.Errorf("token = %q, cookie = %+v", body.Token, c)
		}
	})

	t.Run("既存トークンを返す", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})
		w := httptest.NewRecorder()
		NewCSRFTokenHandler(CSRFConfig{}).ServeHTTP(w, req)

		var body struct {
			Token string `json:"token"`
		}
		_ = json.NewDecoder(w.Body).Decode(&body)
		if body.Token != "existing" {
			t.Errorf("token = %q, want existing", body.Token)
		}
	})
}

func TestCSRFTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := CSRFTokenFromRequest(req); got != "" {
		t.Errorf("got %q, want empty", got)
	}
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "abc"})
	if got := CSRFTokenFromRequest(req); got != "abc" {
		t.Errorf("got %q, want abc", got)
	}
}
