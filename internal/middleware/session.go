// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/meetsprint/internal/model"
)

// SessionCookieName はセッショントークンを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey  = contextKey("user_id")
	sessionContextKey = contextKey("session")
)

type sessionValue struct {
	session *model.Session
	user    *model.User
}

// SessionResolver はセッションCookieのトークンの検証と延長を行う。
// auth.Serviceが実装する。
type SessionResolver interface {
	// ResolveToken は有効なセッションとユーザーを返す。無効な場合はnil。
	ResolveToken(ctx context.Context, token string) (*model.Session, *model.User, error)
	// RefreshSession は必要に応じてセッションを延長し、延長した場合はtrueを返す。
	RefreshSession(ctx context.Context, session *model.Session) (*model.Session, bool, error)
	// IssueToken はセッションのトークンを発行する。
	IssueToken(session *model.Session) (string, error)
}

// CookieConfig はセッションCookieの属性。
type CookieConfig struct {
	Secure bool
	Domain string
	MaxAge time.Duration
}

// NewSessionMiddleware はCookieのセッションを検証し、
// 認証済みユーザーIDとセッションをリクエストコンテキストに注入する。
// 未認証リクエストには401 Unauthorizedを返す。
func NewSessionMiddleware(resolver SessionResolver, cookie CookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, ok := resolveSession(w, r, resolver, cookie)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewOptionalSessionMiddleware はセッションがあればコンテキストに注入し、
// なければそのまま次のハンドラーに渡す。ページのルートで使用する。
func NewOptionalSessionMiddleware(resolver SessionResolver, cookie CookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ctx, ok := resolveSession(w, r, resolver, cookie); ok {
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// resolveSession はCookieからセッションを解決し、残り期間が短ければ延長してCookieを再発行する。
func resolveSession(w http.ResponseWriter, r *http.Request, resolver SessionResolver, cookie CookieConfig) (context.Context, bool) {
	c, err := r.Cookie(SessionCookieName)
	if err != nil || c.Value == "" {
		return nil, false
	}

	session, user, err := resolver.ResolveToken(r.Context(), c.Value)
	if err != nil {
		slog.Error("failed to resolve session",
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	if session == nil || user == nil {
		return nil, false
	}

	refreshed, extended, err := resolver.RefreshSession(r.Context(), session)
	switch {
	case err != nil:
		// 延長に失敗しても現在のセッションはまだ有効
		slog.Warn("failed to refresh session",
			slog.String("user_id", session.UserID),
			slog.String("error", err.Error()),
		)
	case extended:
		session = refreshed
		if token, err := resolver.IssueToken(session); err == nil {
			SetSessionCookie(w, token, cookie)
		} else {
			slog.Error("failed to issue session token", slog.String("error", err.Error()))
		}
	}

	noteUserID(r.Context(), session.UserID)
	return ContextWithSession(r.Context(), session, user), true
}

// SetSessionCookie はセッショントークンをHTTP Only Cookieに設定する。
func SetSessionCookie(w http.ResponseWriter, token string, cookie CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   cookie.Domain,
		MaxAge:   int(cookie.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie はセッションCookieを削除する。
func ClearSessionCookie(w http.ResponseWriter, cookie CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// SessionFromContext はリクエストコンテキストからセッションとユーザーを取得する。
func SessionFromContext(ctx context.Context) (*model.Session, *model.User, bool) {
	v, ok := ctx.Value(sessionContextKey).(sessionValue)
	if !ok || v.session == nil {
		return nil, nil, false
	}
	return v.session, v.user, true
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// ContextWithSession はコンテキストにセッションとユーザーを注入する。
func ContextWithSession(ctx context.Context, session *model.Session, user *model.User) context.Context {
	ctx = context.WithValue(ctx, userIDContextKey, session.UserID)
	return context.WithValue(ctx, sessionContextKey, sessionValue{session: session, user: user})
}
