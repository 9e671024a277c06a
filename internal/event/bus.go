// Package event はセッション変更イベントの購読と配信を提供する。
//
// 配信は同期的で、Publishの呼び出し順とリスナーの登録順が保たれる。
package event

import (
	"sync"
	"sync/atomic"

	"github.com/hitoshi/meetsprint/internal/model"
)

// Kind はセッション変更イベントの種類。
type Kind string

const (
	// SignedIn はOAuthログインでセッションが発行されたことを表す。
	SignedIn Kind = "signed_in"
	// SignedOut はセッションが破棄されたことを表す。
	SignedOut Kind = "signed_out"
	// TokenRefreshed はセッションの有効期限が延長されたことを表す。
	TokenRefreshed Kind = "token_refreshed"
)

// SessionEvent はセッションの変更を表す。
// SignedOutではUserはnilの場合がある。
type SessionEvent struct {
	Kind    Kind
	Session *model.Session
	User    *model.User
}

// Listener はイベントを受け取る関数。
// Listener内からPublishを呼び出してはならない。
type Listener func(SessionEvent)

// Publisher はイベントの発行側インターフェース。
type Publisher interface {
	Publish(ev SessionEvent)
}

// Bus はセッション変更イベントのpub/subを提供する。ゼロ値で使用できる。
type Bus struct {
	// publishMu はPublishを直列化し、配信順を発行順と一致させる。
	publishMu sync.Mutex

	mu   sync.RWMutex
	subs []*Subscription
}

// NewBus はBusを生成する。
func NewBus() *Bus {
	return &Bus{}
}

// Subscription はBusへの購読を表す。
type Subscription struct {
	bus    *Bus
	fn     Listener
	active atomic.Bool
}

// Subscribe はリスナーを登録する。
// 返されたSubscriptionのUnsubscribeで登録を解除する。
func (b *Bus) Subscribe(fn Listener) *Subscription {
	sub := &Subscription{bus: b, fn: fn}
	sub.active.Store(true)

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub
}

// Unsubscribe は購読を解除する。複数回呼び出しても安全。
// 解除後に開始される配信ではリスナーは呼ばれない。
func (s *Subscription) Unsubscribe() {
	if !s.active.CompareAndSwap(true, false) {
		return
	}

	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == s {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish はイベントを登録済みの全リスナーに登録順で同期的に配信する。
func (b *Bus) Publish(ev SessionEvent) {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.RLock()
	subs := make([]*Subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.active.Load() {
			continue
		}
		sub.fn(ev)
	}
}

// Len は登録中のリスナー数を返す。
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// compile-time interface check
var _ Publisher = (*Bus)(nil)
