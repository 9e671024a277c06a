package authctx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/meetsprint/internal/event"
	"github.com/hitoshi/meetsprint/internal/model"
)

// --- モック ---

type fakeStore struct {
	bus *event.Bus

	getSessionFn func(ctx context.Context) (*model.Session, *model.User, error)
	signInFn     func(ctx context.Context, provider, redirectURL string, params map[string]string) (string, error)
	signOutFn    func(ctx context.Context) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{bus: event.NewBus()}
}

func (s *fakeStore) GetSession(ctx context.Context) (*model.Session, *model.User, error) {
	if s.getSessionFn != nil {
		return s.getSessionFn(ctx)
	}
	return nil, nil, nil
}

func (s *fakeStore) OnSessionChange(fn func(event.SessionEvent)) func() {
	return s.bus.Subscribe(fn).Unsubscribe
}

func (s *fakeStore) SignInWithOAuth(ctx context.Context, provider, redirectURL string, params map[string]string) (string, error) {
	if s.signInFn != nil {
		return s.signInFn(ctx, provider, redirectURL, params)
	}
	return "https://accounts.example.com/auth", nil
}

func (s *fakeStore) SignOut(ctx context.Context) error {
	if s.signOutFn != nil {
		return s.signOutFn(ctx)
	}
	return nil
}

type exchangeFunc func(ctx context.Context, code string) (*model.Session, *model.User, error)

func (f exchangeFunc) ExchangeCode(ctx context.Context, code string) (*model.Session, *model.User, error) {
	return f(ctx, code)
}

type resolveFunc func(ctx context.Context, user *model.User) (*model.Profile, error)

func (f resolveFunc) FetchOrCreate(ctx context.Context, user *model.User) (*model.Profile, error) {
	return f(ctx, user)
}

// recorder は通知された状態を順に記録する。
type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) listen(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.states))
	copy(out, r.states)
	return out
}

var (
	testUser    = &model.User{ID: "u1", Email: "u1@example.com", Name: "Ada"}
	testSession = &model.Session{ID: "s1", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}
	orgID       = "org-1"
)

func memberProfile() *model.Profile {
	return &model.Profile{ID: "u1", Email: "u1@example.com", Role: model.RoleMember}
}

func adminProfile() *model.Profile {
	return &model.Profile{ID: "u1", Email: "u1@example.com", Role: model.RoleAdmin, OrganizationID: &orgID}
}

func staticProfile(p *model.Profile) ProfileResolver {
	return resolveFunc(func(ctx context.Context, user *model.User) (*model.Profile, error) { return p, nil })
}

func noExchange() CodeExchanger {
	return exchangeFunc(func(ctx context.Context, code string) (*model.Session, *model.User, error) {
		return nil, nil, errors.New("unexpected exchange")
	})
}

// --- テスト ---

func TestInitialize_WithSession(t *testing.T) {
	store := newFakeStore()
	store.getSessionFn = func(ctx context.Context) (*model.Session, *model.User, error) {
		return testSession, testUser, nil
	}
	profile := memberProfile()
	c := New(context.Background(), store, noExchange(), staticProfile(profile))
	defer c.Close()

	rec := &recorder{}
	c.Subscribe(rec.listen)
	c.Initialize(context.Background())

	st := c.State()
	assert.True(t, st.IsAuthenticated())
	assert.False(t, st.IsLoading)
	assert.Same(t, testUser, st.User)
	assert.Same(t, profile, st.Profile)

	states := rec.snapshot()
	require.Len(t, states, 2)
	assert.True(t, states[0].IsLoading)
	assert.False(t, states[1].IsLoading)
}

func TestInitialize_NoSession(t *testing.T) {
	store := newFakeStore()
	resolver := resolveFunc(func(ctx context.Context, user *model.User) (*model.Profile, error) {
		t.Error("profile should not be resolved without session")
		return nil, nil
	})
	c := New(context.Background(), store, noExchange(), resolver)
	defer c.Close()

	c.Initialize(context.Background())

	st := c.State()
	assert.False(t, st.IsAuthenticated())
	assert.False(t, st.IsLoading)
	assert.Nil(t, st.User)
	assert.Nil(t, st.Profile)
}

// セッションの読み込みに失敗しても未ログインとして確定すること
func TestInitialize_SessionErrorCollapsesToSignedOut(t *testing.T) {
	store := newFakeStore()
	store.getSessionFn = func(ctx context.Context) (*model.Session, *model.User, error) {
		return nil, nil, errors.New("store unavailable")
	}
	c := New(context.Background(), store, noExchange(), staticProfile(memberProfile()))
	defer c.Close()

	c.Initialize(context.Background())

	st := c.State()
	assert.False(t, st.IsAuthenticated())
	assert.False(t, st.IsLoading)
}

func TestInitialize_ProfileErrorCollapsesToSignedOut(t *testing.T) {
	store := newFakeStore()
	store.getSessionFn = func(ctx context.Context) (*model.Session, *model.User, error) {
		return testSession, testUser, nil
	}
	resolver := resolveFunc(func(ctx context.Context, user *model.User) (*model.Profile, error) {
		return nil, errors.New("read failed")
	})
	c := New(context.Background(), store, noExchange(), resolver)
	defer c.Close()

	c.Initialize(context.Background())

	st := c.State()
	assert.False(t, st.IsAuthenticated())
	assert.Nil(t, st.User)
	assert.False(t, st.IsLoading)
}

func TestSignIn_RequestsOfflineAccessAndConsent(t *testing.T) {
	store := newFakeStore()
	var gotProvider, gotRedirect string
	var gotParams map[string]string
	store.signInFn = func(ctx context.Context, provider, redirectURL string, params map[string]string) (string, error) {
		gotProvider, gotRedirect, gotParams = provider, redirectURL, params
		return "https://accounts.example.com/auth?x=1", nil
	}
	c := New(context.Background(), store, noExchange(), staticProfile(nil))
	defer c.Close()

	url, err := c.SignIn(context.Background(), "http://localhost:8080/auth/callback")
	require.NoError(t, err)
	assert.Equal(t, "https://accounts.example.com/auth?x=1", url)
	assert.Equal(t, "google", gotProvider)
	assert.Equal(t, "http://localhost:8080/auth/callback", gotRedirect)
	assert.Equal(t, "offline", gotParams["access_type"])
	assert.Equal(t, "consent", gotParams["prompt"])
}

func TestSignIn_PropagatesError(t *testing.T) {
	store := newFakeStore()
	calls := 0
	store.signInFn = func(ctx context.Context, provider, redirectURL string, params map[string]string) (string, error) {
		calls++
		return "", errors.New("provider down")
	}
	c := New(context.Background(), store, noExchange(), staticProfile(nil))
	defer c.Close()

	_, err := c.SignIn(context.Background(), "http://localhost:8080/auth/callback")
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestHandleAuthCallback_NextRoute(t *testing.T) {
	tests := []struct {
		name    string
		profile *model.Profile
		want    string
	}{
		{"組織未所属はオンボーディング", memberProfile(), RouteOnboarding},
		{"組織所属済みはダッシュボード", adminProfile(), RouteDashboard},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exchanger := exchangeFunc(func(ctx context.Context, code string) (*model.Session, *model.User, error) {
				assert.Equal(t, "code-123", code)
				return testSession, testUser, nil
			})
			c := New(context.Background(), newFakeStore(), exchanger, staticProfile(tt.profile))
			defer c.Close()

			next, err := c.HandleAuthCallback(context.Background(), "code-123")
			require.NoError(t, err)
			assert.Equal(t, tt.want, next)

			st := c.State()
			assert.True(t, st.IsAuthenticated())
			assert.Same(t, tt.profile, st.Profile)
			assert.False(t, st.IsLoading)
		})
	}
}

func TestHandleAuthCallback_ExchangeError(t *testing.T) {
	exchanger := exchangeFunc(func(ctx context.Context, code string) (*model.Session, *model.User, error) {
		return nil, nil, errors.New("invalid_grant")
	})
	c := New(context.Background(), newFakeStore(), exchanger, staticProfile(memberProfile()))
	defer c.Close()

	_, err := c.HandleAuthCallback(context.Background(), "bad")
	assert.Error(t, err)
	assert.False(t, c.State().IsAuthenticated())
	assert.False(t, c.State().IsLoading)
}

func TestSignOut_ClearsState(t *testing.T) {
	store := newFakeStore()
	store.getSessionFn = func(ctx context.Context) (*model.Session, *model.User, error) {
		return testSession, testUser, nil
	}
	c := New(context.Background(), store, noExchange(), staticProfile(memberProfile()))
	defer c.Close()
	c.Initialize(context.Background())
	require.True(t, c.State().IsAuthenticated())

	rec := &recorder{}
	c.Subscribe(rec.listen)

	require.NoError(t, c.SignOut(context.Background()))

	st := c.State()
	assert.Nil(t, st.User)
	assert.Nil(t, st.Session)
	assert.Nil(t, st.Profile)
	assert.Len(t, rec.snapshot(), 1)
}

// SignOutでストアがSignedOutを発行しても通知は1回であること
func TestSignOut_StoreEventDoesNotDoubleNotify(t *testing.T) {
	store := newFakeStore()
	store.getSessionFn = func(ctx context.Context) (*model.Session, *model.User, error) {
		return testSession, testUser, nil
	}
	store.signOutFn = func(ctx context.Context) error {
		store.bus.Publish(event.SessionEvent{Kind: event.SignedOut, Session: testSession})
		return nil
	}
	c := New(context.Background(), store, noExchange(), staticProfile(memberProfile()))
	defer c.Close()
	c.Initialize(context.Background())

	rec := &recorder{}
	c.Subscribe(rec.listen)
	require.NoError(t, c.SignOut(context.Background()))

	assert.Len(t, rec.snapshot(), 1)
	assert.False(t, c.State().IsAuthenticated())
}

func TestSignOut_ErrorKeepsState(t *testing.T) {
	store := newFakeStore()
	store.getSessionFn = func(ctx context.Context) (*model.Session, *model.User, error) {
		return testSession, testUser, nil
	}
	store.signOutFn = func(ctx context.Context) error { return errors.New("network") }
	c := New(context.Background(), store, noExchange(), staticProfile(memberProfile()))
	defer c.Close()
	c.Initialize(context.Background())

	assert.Error(t, c.SignOut(context.Background()))
	assert.True(t, c.State().IsAuthenticated())
}

func TestRefreshProfile_ReplacesProfile(t *testing.T) {
	store := newFakeStore()
	store.getSessionFn = func(ctx context.Context) (*model.Session, *model.User, error) {
		return testSession, testUser, nil
	}
	current := memberProfile()
	resolver := resolveFunc(func(ctx context.Context, user *model.User) (*model.Profile, error) {
		return current, nil
	})
	c := New(context.Background(), store, noExchange(), resolver)
	defer c.Close()
	c.Initialize(context.Background())

	current = adminProfile()
	require.NoError(t, c.RefreshProfile(context.Background()))
	assert.True(t, c.State().Profile.HasOrganization())
}

func TestRefreshProfile_NoUserIsNoop(t *testing.T) {
	resolver := resolveFunc(func(ctx context.Context, user *model.User) (*model.Profile, error) {
		t.Error("should not resolve without user")
		return nil, nil
	})
	c := New(context.Background(), newFakeStore(), noExchange(), resolver)
	defer c.Close()

	assert.NoError(t, c.RefreshProfile(context.Background()))
}

func TestSessionEvent_SignedInResolvesProfile(t *testing.T) {
	store := newFakeStore()
	profile := memberProfile()
	c := New(context.Background(), store, noExchange(), staticProfile(profile))
	defer c.Close()

	store.bus.Publish(event.SessionEvent{Kind: event.SignedIn, Session: testSession, User: testUser})

	st := c.State()
	assert.True(t, st.IsAuthenticated())
	assert.Same(t, profile, st.Profile)
}

// 同じセッションのSignedInではプロフィールを再取得しないこと
func TestSessionEvent_SameSessionSkipsProfileRefetch(t *testing.T) {
	store := newFakeStore()
	store.getSessionFn = func(ctx context.Context) (*model.Session, *model.User, error) {
		return testSession, testUser, nil
	}
	calls := 0
	resolver := resolveFunc(func(ctx context.Context, user *model.User) (*model.Profile, error) {
		calls++
		return memberProfile(), nil
	})
	c := New(context.Background(), store, noExchange(), resolver)
	defer c.Close()
	c.Initialize(context.Background())
	require.Equal(t, 1, calls)

	renewed := &model.Session{ID: "s1", UserID: "u1", ExpiresAt: time.Now().Add(2 * time.Hour)}
	store.bus.Publish(event.SessionEvent{Kind: event.SignedIn, Session: renewed, User: testUser})

	assert.Equal(t, 1, calls)
	assert.Same(t, renewed, c.State().Session)
}

func TestSessionEvent_TokenRefreshedReplacesSession(t *testing.T) {
	store := newFakeStore()
	store.getSessionFn = func(ctx context.Context) (*model.Session, *model.User, error) {
		return testSession, testUser, nil
	}
	c := New(context.Background(), store, noExchange(), staticProfile(memberProfile()))
	defer c.Close()
	c.Initialize(context.Background())

	other := &model.Session{ID: "s-other", UserID: "u1"}
	store.bus.Publish(event.SessionEvent{Kind: event.TokenRefreshed, Session: other})
	assert.Same(t, testSession, c.State().Session)

	refreshed := &model.Session{ID: "s1", UserID: "u1", ExpiresAt: time.Now().Add(3 * time.Hour)}
	store.bus.Publish(event.SessionEvent{Kind: event.TokenRefreshed, Session: refreshed})
	assert.Same(t, refreshed, c.State().Session)
}

func TestSessionEvent_SignedOutClears(t *testing.T) {
	store := newFakeStore()
	store.getSessionFn = func(ctx context.Context) (*model.Session, *model.User, error) {
		return testSession, testUser, nil
	}
	c := New(context.Background(), store, noExchange(), staticProfile(memberProfile()))
	defer c.Close()
	c.Initialize(context.Background())

	store.bus.Publish(event.SessionEvent{Kind: event.SignedOut, Session: testSession})
	assert.False(t, c.State().IsAuthenticated())
	assert.Nil(t, c.State().Profile)
}

// プロフィール解決中に届いたサインアウトが、古いセッションで上書きされないこと
func TestInitialize_SignedOutWhileResolvingProfileWins(t *testing.T) {
	store := newFakeStore()
	store.getSessionFn = func(ctx context.Context) (*model.Session, *model.User, error) {
		return testSession, testUser, nil
	}
	resolver := resolveFunc(func(ctx context.Context, user *model.User) (*model.Profile, error) {
		store.bus.Publish(event.SessionEvent{Kind: event.SignedOut, Session: testSession, User: testUser})
		return memberProfile(), nil
	})
	c := New(context.Background(), store, noExchange(), resolver)
	defer c.Close()

	rec := &recorder{}
	c.Subscribe(rec.listen)
	c.Initialize(context.Background())

	st := c.State()
	assert.False(t, st.IsAuthenticated())
	assert.Nil(t, st.User)
	assert.Nil(t, st.Profile)
	assert.False(t, st.IsLoading)

	states := rec.snapshot()
	require.NotEmpty(t, states)
	assert.Nil(t, states[len(states)-1].Session)
}

func TestHandleAuthCallback_SignedOutWhileResolvingProfile(t *testing.T) {
	store := newFakeStore()
	exchanger := exchangeFunc(func(ctx context.Context, code string) (*model.Session, *model.User, error) {
		return testSession, testUser, nil
	})
	resolver := resolveFunc(func(ctx context.Context, user *model.User) (*model.Profile, error) {
		store.bus.Publish(event.SessionEvent{Kind: event.SignedOut, Session: testSession, User: testUser})
		return adminProfile(), nil
	})
	c := New(context.Background(), store, exchanger, resolver)
	defer c.Close()

	next, err := c.HandleAuthCallback(context.Background(), "code-123")
	require.ErrorIs(t, err, ErrSessionChanged)
	assert.Empty(t, next)
	assert.False(t, c.State().IsAuthenticated())
	assert.False(t, c.State().IsLoading)
}

// 同じセッションのトークン更新は世代を進めないため、読み込み結果はそのまま反映されること
func TestInitialize_TokenRefreshedWhileResolvingProfileKeepsSession(t *testing.T) {
	store := newFakeStore()
	store.getSessionFn = func(ctx context.Context) (*model.Session, *model.User, error) {
		return testSession, testUser, nil
	}
	refreshed := &model.Session{ID: "s1", UserID: "u1", ExpiresAt: time.Now().Add(3 * time.Hour)}
	resolver := resolveFunc(func(ctx context.Context, user *model.User) (*model.Profile, error) {
		store.bus.Publish(event.SessionEvent{Kind: event.TokenRefreshed, Session: refreshed})
		return memberProfile(), nil
	})
	c := New(context.Background(), store, noExchange(), resolver)
	defer c.Close()

	c.Initialize(context.Background())
	assert.True(t, c.State().IsAuthenticated())
	assert.NotNil(t, c.State().Profile)
}

func TestSubscribe_UnsubscribeStopsNotifications(t *testing.T) {
	store := newFakeStore()
	c := New(context.Background(), store, noExchange(), staticProfile(memberProfile()))
	defer c.Close()

	rec := &recorder{}
	sub := c.Subscribe(rec.listen)
	store.bus.Publish(event.SessionEvent{Kind: event.SignedIn, Session: testSession, User: testUser})
	sub.Unsubscribe()
	sub.Unsubscribe()
	store.bus.Publish(event.SessionEvent{Kind: event.SignedOut})

	for _, st := range rec.snapshot() {
		assert.True(t, st.IsAuthenticated())
	}
}

// Close後に完了した処理の結果は反映されず、ストアの購読も解除されること
func TestClose_IgnoresLateResults(t *testing.T) {
	store := newFakeStore()
	release := make(chan struct{})
	started := make(chan struct{})
	store.getSessionFn = func(ctx context.Context) (*model.Session, *model.User, error) {
		close(started)
		<-release
		return testSession, testUser, nil
	}
	c := New(context.Background(), store, noExchange(), staticProfile(memberProfile()))
	rec := &recorder{}
	c.Subscribe(rec.listen)

	done := make(chan struct{})
	go func() {
		c.Initialize(context.Background())
		close(done)
	}()

	<-started
	c.Close()
	close(release)
	<-done

	assert.False(t, c.State().IsAuthenticated())
	assert.Equal(t, 0, store.bus.Len())
	for _, st := range rec.snapshot() {
		assert.Nil(t, st.Session)
	}
}

func TestClose_Idempotent(t *testing.T) {
	c := New(context.Background(), newFakeStore(), noExchange(), staticProfile(nil))
	c.Close()
	c.Close()
}
