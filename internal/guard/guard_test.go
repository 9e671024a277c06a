package guard

import (
	"context"
	"testing"

	"github.com/hitoshi/meetsprint/internal/authctx"
	"github.com/hitoshi/meetsprint/internal/event"
	"github.com/hitoshi/meetsprint/internal/model"
)

var (
	orgID    = "org-1"
	session  = &model.Session{ID: "s1", UserID: "u1"}
	user     = &model.User{ID: "u1"}
	member   = &model.Profile{ID: "u1", Role: model.RoleMember}
	onboard  = &model.Profile{ID: "u1", Role: model.RoleAdmin, OrganizationID: &orgID}
	signedIn = func(p *model.Profile) authctx.State {
		return authctx.State{User: user, Session: session, Profile: p}
	}
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name  string
		state authctx.State
		route string
		want  Decision
	}{
		{"読み込み中はWait", authctx.State{IsLoading: true}, "/dashboard", Decision{Outcome: Wait}},
		{"読み込み中は公開ルートでもWait", authctx.State{IsLoading: true}, "/", Decision{Outcome: Wait}},
		{"未ログインでダッシュボード", authctx.State{}, "/dashboard", Decision{Outcome: Redirect, Location: "/"}},
		{"未ログインでオンボーディング", authctx.State{}, "/onboarding", Decision{Outcome: Redirect, Location: "/"}},
		{"組織未所属でダッシュボード", signedIn(member), "/dashboard", Decision{Outcome: Redirect, Location: "/onboarding"}},
		{"プロフィール未解決でダッシュボード", signedIn(nil), "/dashboard", Decision{Outcome: Redirect, Location: "/onboarding"}},
		{"組織所属済みでダッシュボード", signedIn(onboard), "/dashboard", Decision{Outcome: Proceed}},
		{"組織未所属でオンボーディング", signedIn(member), "/onboarding", Decision{Outcome: Proceed}},
		{"組織所属済みでオンボーディング", signedIn(onboard), "/onboarding", Decision{Outcome: Redirect, Location: "/dashboard"}},
		{"未ログインでランディング", authctx.State{}, "/", Decision{Outcome: Proceed}},
		{"未ログインでコールバック", authctx.State{}, "/auth/callback", Decision{Outcome: Proceed}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.state, tt.route); got != tt.want {
				t.Errorf("Evaluate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestProtected(t *testing.T) {
	for route, want := range map[string]bool{
		"/dashboard":     true,
		"/onboarding":    true,
		"/":              false,
		"/auth/callback": false,
	} {
		if got := Protected(route); got != want {
			t.Errorf("Protected(%q) = %v, want %v", route, got, want)
		}
	}
}

// --- Watch ---

type busStore struct{ bus *event.Bus }

func (s *busStore) GetSession(context.Context) (*model.Session, *model.User, error) {
	return nil, nil, nil
}

func (s *busStore) OnSessionChange(fn func(event.SessionEvent)) func() {
	return s.bus.Subscribe(fn).Unsubscribe
}

func (s *busStore) SignInWithOAuth(context.Context, string, string, map[string]string) (string, error) {
	return "", nil
}

func (s *busStore) SignOut(context.Context) error { return nil }

type noExchange struct{}

func (noExchange) ExchangeCode(context.Context, string) (*model.Session, *model.User, error) {
	return nil, nil, nil
}

type fixedProfile struct{ p *model.Profile }

func (f fixedProfile) FetchOrCreate(context.Context, *model.User) (*model.Profile, error) {
	return f.p, nil
}

// 状態が変わるたびに再判定され、同じ判定は重複して通知されないこと
func TestWatch_ReevaluatesOnStateChange(t *testing.T) {
	store := &busStore{bus: event.NewBus()}
	c := authctx.New(context.Background(), store, noExchange{}, fixedProfile{p: onboard})
	defer c.Close()

	var got []Decision
	sub := Watch(c, "/dashboard", func(d Decision) { got = append(got, d) })
	defer sub.Unsubscribe()

	store.bus.Publish(event.SessionEvent{Kind: event.SignedIn, Session: session, User: user})
	store.bus.Publish(event.SessionEvent{Kind: event.SignedOut})

	want := []Decision{
		{Outcome: Redirect, Location: "/"},
		{Outcome: Redirect, Location: "/onboarding"},
		{Outcome: Proceed},
		{Outcome: Redirect, Location: "/"},
	}
	if len(got) != len(want) {
		t.Fatalf("decisions = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("decision[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestOutcome_String(t *testing.T) {
	if Wait.String() != "wait" || Redirect.String() != "redirect" || Proceed.String() != "proceed" {
		t.Error("unexpected Outcome string")
	}
}
