// Package authctx は現在のユーザーの認証状態を保持し、変更を購読者に通知する。
//
// Contextはリクエストごとに生成し、Closeで破棄する。状態の変更は
// 登録順・発生順に同期的に通知される。
package authctx

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hitoshi/meetsprint/internal/event"
	"github.com/hitoshi/meetsprint/internal/model"
)

// ページのルート。
const (
	RouteHome       = "/"
	RouteCallback   = "/auth/callback"
	RouteOnboarding = "/onboarding"
	RouteDashboard  = "/dashboard"
)

// OAuthProviderGoogle はサインインに使うプロバイダー。
const OAuthProviderGoogle = "google"

// signInParams はオフラインアクセスと同意画面を要求するパラメータ。
var signInParams = map[string]string{
	"access_type": "offline",
	"prompt":      "consent",
}

// ErrSessionChanged はサインイン処理中に別のセッション変更が反映されたことを示す。
var ErrSessionChanged = errors.New("authctx: session changed during sign-in")

// SessionStore はセッションを管理する外部のIdPを表す。
type SessionStore interface {
	// GetSession は現在のセッションとユーザーを返す。未ログインの場合はnil。
	GetSession(ctx context.Context) (*model.Session, *model.User, error)
	// OnSessionChange はセッション変更の購読を登録し、解除関数を返す。
	OnSessionChange(fn func(event.SessionEvent)) (unsubscribe func())
	// SignInWithOAuth はプロバイダーの認可URLを返す。
	SignInWithOAuth(ctx context.Context, provider, redirectURL string, params map[string]string) (string, error)
	// SignOut は現在のセッションを破棄する。
	SignOut(ctx context.Context) error
}

// CodeExchanger はOAuthコールバックの認可コードをセッションに交換する。
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code string) (*model.Session, *model.User, error)
}

// ProfileResolver はユーザーのプロフィールをfetch-or-createで解決する。
type ProfileResolver interface {
	FetchOrCreate(ctx context.Context, user *model.User) (*model.Profile, error)
}

// State は認証状態のスナップショット。
type State struct {
	User      *model.User
	Session   *model.Session
	Profile   *model.Profile
	IsLoading bool
}

// IsAuthenticated はセッションがあるかどうかを返す。
func (s State) IsAuthenticated() bool {
	return s.Session != nil
}

func (s State) equal(o State) bool {
	return s.User == o.User && s.Session == o.Session && s.Profile == o.Profile && s.IsLoading == o.IsLoading
}

// Listener は状態の変更を受け取る関数。
// Listener内からContextの状態を変更するメソッドを呼び出してはならない。
type Listener func(State)

// Subscription は状態変更の購読を表す。
type Subscription struct {
	ctx    *Context
	fn     Listener
	active bool
}

// Unsubscribe は購読を解除する。複数回呼び出しても安全。
func (s *Subscription) Unsubscribe() {
	c := s.ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	for i, sub := range c.subs {
		if sub == s {
			c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
			break
		}
	}
}

// Context は認証状態を保持するオブザーバブル。
type Context struct {
	base      context.Context
	store     SessionStore
	exchanger CodeExchanger
	profiles  ProfileResolver

	// notifyMu は状態の変更と通知をまとめて直列化する。
	notifyMu sync.Mutex

	mu               sync.Mutex
	state            State
	// generation はSessionStoreのイベントでセッションが入れ替わるたびに進む。
	generation       uint64
	subs             []*Subscription
	closed           bool
	unsubscribeStore func()
}

// New はContextを生成し、SessionStoreの変更通知を購読する。
// baseはセッション変更イベントを契機としたプロフィール解決に使う。
func New(base context.Context, store SessionStore, exchanger CodeExchanger, profiles ProfileResolver) *Context {
	c := &Context{
		base:      base,
		store:     store,
		exchanger: exchanger,
		profiles:  profiles,
	}
	c.unsubscribeStore = store.OnSessionChange(c.handleSessionEvent)
	return c
}

// State は現在の状態を返す。
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe は状態変更のリスナーを登録する。
func (c *Context) Subscribe(fn Listener) *Subscription {
	sub := &Subscription{ctx: c, fn: fn, active: true}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub
}

// Close はSessionStoreの購読とすべてのリスナーを解除する。
// Close後に完了した処理の結果は状態に反映されない。
func (c *Context) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, sub := range c.subs {
		sub.active = false
	}
	c.subs = nil
	unsubscribe := c.unsubscribeStore
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Initialize は既存のセッションを読み込み、あればプロフィールを解決する。
// 失敗しても呼び出し元にエラーは返さず、未ログイン状態として確定する。
// 終了時のIsLoadingは常にfalse。
func (c *Context) Initialize(ctx context.Context) {
	gen := c.beginLoading()

	session, user, err := c.store.GetSession(ctx)
	if err != nil {
		slog.Warn("failed to read session", slog.String("error", err.Error()))
	}
	if err != nil || session == nil || user == nil {
		c.update(func(s *State) { *s = State{} })
		return
	}

	profile, err := c.profiles.FetchOrCreate(ctx, user)
	if err != nil {
		slog.Warn("failed to resolve profile",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		c.update(func(s *State) { *s = State{} })
		return
	}

	// 読み込み中にサインアウト等が反映されていれば古いセッションで上書きしない
	c.commit(gen, State{User: user, Session: session, Profile: profile})
}

// SignIn はGoogleのOAuthフローを開始するための認可URLを返す。
// 失敗はそのまま呼び出し元に返し、再試行はしない。
func (c *Context) SignIn(ctx context.Context, redirectURL string) (string, error) {
	return c.store.SignInWithOAuth(ctx, OAuthProviderGoogle, redirectURL, signInParams)
}

// HandleAuthCallback は認可コードをセッションに交換してプロフィールを解決し、
// 次に表示するルートを返す。組織に所属済みならダッシュボード、未所属ならオンボーディング。
func (c *Context) HandleAuthCallback(ctx context.Context, code string) (string, error) {
	c.beginLoading()

	session, user, err := c.exchanger.ExchangeCode(ctx, code)
	if err != nil {
		c.update(func(s *State) { *s = State{} })
		return "", err
	}
	// 発行したセッションに対するイベントはここから監視する
	gen := c.currentGeneration()

	profile, err := c.profiles.FetchOrCreate(ctx, user)
	if err != nil {
		c.update(func(s *State) { *s = State{} })
		return "", err
	}

	if !c.commit(gen, State{User: user, Session: session, Profile: profile}) {
		return "", ErrSessionChanged
	}

	if profile.HasOrganization() {
		return RouteDashboard, nil
	}
	return RouteOnboarding, nil
}

// SignOut はセッションを破棄し、ユーザー・セッション・プロフィールを消去する。
// SessionStoreのエラーは呼び出し元に返し、その場合状態は変更しない。
func (c *Context) SignOut(ctx context.Context) error {
	if err := c.store.SignOut(ctx); err != nil {
		return err
	}
	c.update(func(s *State) { *s = State{} })
	return nil
}

// RefreshProfile は現在のユーザーのプロフィールを再度fetch-or-createする。
// 一時プロフィールの保存の再試行にもなる。
func (c *Context) RefreshProfile(ctx context.Context) error {
	current := c.State()
	if current.User == nil || current.Session == nil {
		return nil
	}

	profile, err := c.profiles.FetchOrCreate(ctx, current.User)
	if err != nil {
		return err
	}
	c.applyProfile(current.Session.ID, profile)
	return nil
}

// handleSessionEvent はSessionStoreの変更を状態に反映する。
func (c *Context) handleSessionEvent(ev event.SessionEvent) {
	switch ev.Kind {
	case event.SignedIn:
		if ev.Session == nil {
			return
		}
		current := c.State()
		if current.Session != nil && current.Session.ID == ev.Session.ID {
			c.update(func(s *State) {
				s.Session = ev.Session
				if ev.User != nil {
					s.User = ev.User
				}
			})
			return
		}

		c.update(func(s *State) {
			c.generation++
			*s = State{User: ev.User, Session: ev.Session}
		})
		if ev.User == nil {
			return
		}
		profile, err := c.profiles.FetchOrCreate(c.base, ev.User)
		if err != nil {
			slog.Warn("failed to resolve profile after sign-in",
				slog.String("user_id", ev.User.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		c.applyProfile(ev.Session.ID, profile)

	case event.SignedOut:
		c.update(func(s *State) {
			c.generation++
			*s = State{}
		})

	case event.TokenRefreshed:
		if ev.Session == nil {
			return
		}
		c.update(func(s *State) {
			if s.Session != nil && s.Session.ID == ev.Session.ID {
				s.Session = ev.Session
			}
		})
	}
}

// applyProfile はセッションが変わっていない場合に限りプロフィールを反映する。
func (c *Context) applyProfile(sessionID string, profile *model.Profile) {
	c.update(func(s *State) {
		if s.Session != nil && s.Session.ID == sessionID {
			s.Profile = profile
		}
	})
}

// beginLoading はIsLoadingを立て、その時点の世代を返す。
func (c *Context) beginLoading() uint64 {
	gen := c.currentGeneration()
	c.update(func(s *State) { s.IsLoading = true })
	return gen
}

func (c *Context) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// commit は世代がgenのままの場合に限りnextを反映し、反映したかどうかを返す。
func (c *Context) commit(gen uint64, next State) bool {
	applied := false
	c.update(func(s *State) {
		if c.generation != gen {
			return
		}
		*s = next
		applied = true
	})
	return applied
}

// update は状態を変更し、変化があれば購読者に通知する。
// mutateはc.muを保持した状態で呼ばれる。
func (c *Context) update(mutate func(*State)) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	before := c.state
	mutate(&c.state)
	after := c.state
	if before.equal(after) {
		c.mu.Unlock()
		return
	}
	subs := make([]*Subscription, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, sub := range subs {
		c.mu.Lock()
		active := sub.active
		c.mu.Unlock()
		if active {
			sub.fn(after)
		}
	}
}
