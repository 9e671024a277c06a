// Package guard は認証状態に応じてページへのアクセス可否を判定する。
package guard

import (
	"github.com/hitoshi/meetsprint/internal/authctx"
)

// Outcome は判定の種類。
type Outcome int

const (
	// Wait は認証状態の読み込み中で、まだ判定できないことを表す。
	Wait Outcome = iota
	// Redirect は別のルートへ遷移させることを表す。
	Redirect
	// Proceed はそのまま表示してよいことを表す。
	Proceed
)

func (o Outcome) String() string {
	switch o {
	case Wait:
		return "wait"
	case Redirect:
		return "redirect"
	case Proceed:
		return "proceed"
	default:
		return "unknown"
	}
}

// Decision はルートガードの判定結果。LocationはRedirectの場合のみ設定される。
type Decision struct {
	Outcome  Outcome
	Location string
}

func wait() Decision { return Decision{Outcome: Wait} }
func proceed() Decision { return Decision{Outcome: Proceed} }
func redirect(to string) Decision { return Decision{Outcome: Redirect, Location: to} }

// Evaluate は認証状態とルートから判定を返す。
//
//   - 読み込み中はWait
//   - /dashboard, /onboarding は未ログインなら / へ
//   - /dashboard は組織未所属なら /onboarding へ
//   - /onboarding は組織所属済みなら /dashboard へ
//   - それ以外のルートはProceed
func Evaluate(state authctx.State, route string) Decision {
	if state.IsLoading {
		return wait()
	}

	switch route {
	case authctx.RouteDashboard:
		if !state.IsAuthenticated() {
			return redirect(authctx.RouteHome)
		}
		if !state.Profile.HasOrganization() {
			return redirect(authctx.RouteOnboarding)
		}
		return proceed()

	case authctx.RouteOnboarding:
		if !state.IsAuthenticated() {
			return redirect(authctx.RouteHome)
		}
		if state.Profile.HasOrganization() {
			return redirect(authctx.RouteDashboard)
		}
		return proceed()

	default:
		return proceed()
	}
}

// Protected はルートがログインを必要とするかどうかを返す。
func Protected(route string) bool {
	return route == authctx.RouteDashboard || route == authctx.RouteOnboarding
}

// Watch は現在の状態で判定したうえで、状態が変わるたびに再判定してfnに渡す。
// 直前と同じ判定は通知しない。戻り値のUnsubscribeで監視を終了する。
func Watch(c *authctx.Context, route string, fn func(Decision)) *authctx.Subscription {
	last := Evaluate(c.State(), route)
	fn(last)

	return c.Subscribe(func(s authctx.State) {
		d := Evaluate(s, route)
		if d == last {
			return
		}
		last = d
		fn(d)
	})
}
