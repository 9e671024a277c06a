package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"

	"github.com/hitoshi/meetsprint/internal/authctx"
	"github.com/hitoshi/meetsprint/internal/event"
	"github.com/hitoshi/meetsprint/internal/middleware"
	"github.com/hitoshi/meetsprint/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600 // 10分
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	middleware.SessionResolver
	// LoginURL はプロバイダーの認可URLを生成する。
	LoginURL(provider, redirectURL, state string, params map[string]string) (string, error)
	// HandleCallback は認可コードを交換してセッションを発行する。
	HandleCallback(ctx context.Context, code string) (*model.Session, *model.User, error)
	// Logout はセッションを破棄する。
	Logout(ctx context.Context, sessionID string) error
}

// ProfileServiceInterface はプロフィールのfetch-or-createを提供する。
type ProfileServiceInterface interface {
	FetchOrCreate(ctx context.Context, user *model.User) (*model.Profile, error)
}

// SessionEventSource はセッション変更イベントの購読元。event.Busが実装する。
type SessionEventSource interface {
	Subscribe(fn event.Listener) *event.Subscription
}

// requestSessionStore は1リクエストの範囲でCookieセッションを扱うSessionStore。
// authctx.SessionStoreとauthctx.CodeExchangerを実装する。
type requestSessionStore struct {
	auth   AuthServiceInterface
	events SessionEventSource
	cookie middleware.CookieConfig
	w      http.ResponseWriter
	r      *http.Request

	mu      sync.Mutex
	session *model.Session
	user    *model.User
}

func newRequestSessionStore(auth AuthServiceInterface, events SessionEventSource, cookie middleware.CookieConfig, w http.ResponseWriter, r *http.Request) *requestSessionStore {
	s := &requestSessionStore{auth: auth, events: events, cookie: cookie, w: w, r: r}
	s.session, s.user, _ = middleware.SessionFromContext(r.Context())
	return s
}

// GetSession はミドルウェアが解決したセッション、またはこのリクエストで発行したセッションを返す。
func (s *requestSessionStore) GetSession(ctx context.Context) (*model.Session, *model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session, s.user, nil
}

// OnSessionChange はこのリクエストのセッションに関係するイベントだけを転送する。
func (s *requestSessionStore) OnSessionChange(fn func(event.SessionEvent)) func() {
	if s.events == nil {
		return func() {}
	}
	sub := s.events.Subscribe(func(ev event.SessionEvent) {
		if s.concerns(ev) {
			fn(ev)
		}
	})
	return sub.Unsubscribe
}

func (s *requestSessionStore) concerns(ev event.SessionEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return false
	}
	if ev.Session != nil {
		return ev.Session.ID == s.session.ID
	}
	// 退会ではセッションを特定せずユーザー単位で通知される
	return ev.Kind == event.SignedOut && ev.User != nil && ev.User.ID == s.session.UserID
}

// SignInWithOAuth はstateをCookieに保存して認可URLを返す。
func (s *requestSessionStore) SignInWithOAuth(ctx context.Context, provider, redirectURL string, params map[string]string) (string, error) {
	state, err := generateState()
	if err != nil {
		return "", err
	}
	url, err := s.auth.LoginURL(provider, redirectURL, state, params)
	if err != nil {
		return "", err
	}

	http.SetCookie(s.w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   s.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return url, nil
}

// SignOut はセッションを破棄してCookieを削除する。
// Cookieは破棄に失敗しても削除する。
func (s *requestSessionStore) SignOut(ctx context.Context) error {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()

	defer middleware.ClearSessionCookie(s.w, s.cookie)
	if session == nil {
		return nil
	}
	if err := s.auth.Logout(ctx, session.ID); err != nil {
		return err
	}

	s.mu.Lock()
	s.session, s.user = nil, nil
	s.mu.Unlock()
	return nil
}

// ExchangeCode は認可コードをセッションに交換し、セッションCookieを設定する。
func (s *requestSessionStore) ExchangeCode(ctx context.Context, code string) (*model.Session, *model.User, error) {
	session, user, err := s.auth.HandleCallback(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	token, err := s.auth.IssueToken(session)
	if err != nil {
		return nil, nil, err
	}
	middleware.SetSessionCookie(s.w, token, s.cookie)

	s.mu.Lock()
	s.session, s.user = session, user
	s.mu.Unlock()
	return session, user, nil
}

// clearStateCookie はOAuthのstate Cookieを削除する。
func (s *requestSessionStore) clearStateCookie() {
	http.SetCookie(s.w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

var (
	_ authctx.SessionStore  = (*requestSessionStore)(nil)
	_ authctx.CodeExchanger = (*requestSessionStore)(nil)
)

// authContextFactory はリクエストごとのauthctx.Contextを生成する。
type authContextFactory struct {
	auth     AuthServiceInterface
	profiles ProfileServiceInterface
	events   SessionEventSource
	cookie   middleware.CookieConfig
}

// open はリクエスト用のContextを生成する。呼び出し側はCloseすること。
func (f *authContextFactory) open(w http.ResponseWriter, r *http.Request) (*authctx.Context, *requestSessionStore) {
	store := newRequestSessionStore(f.auth, f.events, f.cookie, w, r)
	return authctx.New(r.Context(), store, store, f.profiles), store
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
