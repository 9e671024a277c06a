// Package notify はセッション変更イベントをRabbitMQへ送出する。
//
// イベントバスの配信はリクエスト処理と同期しているため、ここでは
// バッファ付きチャネルに積むだけにして、送出はRunのゴルーチンで行う。
// 送出の失敗はログに記録するのみで、認証フローには影響させない。
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hitoshi/meetsprint/internal/event"
)

// DefaultQueue はセッションイベントの送出先キュー名。
const DefaultQueue = "meetsprint.session_events"

const defaultBufferSize = 256

// Message はキューに送出するメッセージ。
// セッションIDは認証情報そのものなので含めない。
type Message struct {
	Kind       string     `json:"kind"`
	UserID     string     `json:"user_id,omitempty"`
	Email      string     `json:"email,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// PublishFunc はシリアライズ済みのメッセージを送出する関数。
type PublishFunc func(ctx context.Context, body []byte) error

// AMQPPublisher はRabbitMQの永続キューへメッセージを送出する。
// 接続とチャネルは最初の送出時に開いて使い回し、閉じられていれば開き直す。
type AMQPPublisher struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher はAMQPPublisherを生成する。接続はこの時点では行わない。
func NewAMQPPublisher(url, queue string) *AMQPPublisher {
	if queue == "" {
		queue = DefaultQueue
	}
	return &AMQPPublisher{url: url, queue: queue}
}

// Publish はメッセージを永続化指定で送出する。
// 送出に失敗した場合は接続を破棄し、次回の送出で接続し直す。
func (p *AMQPPublisher) Publish(ctx context.Context, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channelLocked()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		p.closeLocked()
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close は開いている接続を閉じる。未接続の場合は何もしない。
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *AMQPPublisher) channelLocked() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.closeLocked()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *AMQPPublisher) closeLocked() error {
	var err error
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		if !p.conn.IsClosed() {
			err = p.conn.Close()
		}
		p.conn = nil
	}
	return err
}

// Notifier はイベントバスを購読し、受け取ったイベントを非同期に送出する。
type Notifier struct {
	publish PublishFunc
	logger  *slog.Logger
	events  chan event.SessionEvent
	timeout time.Duration
	now     func() time.Time
}

// NewNotifier はNotifierを生成する。
func NewNotifier(publish PublishFunc, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		publish: publish,
		logger:  logger,
		events:  make(chan event.SessionEvent, defaultBufferSize),
		timeout: 5 * time.Second,
		now:     time.Now,
	}
}

// Attach はバスにNotifierを登録する。
func (n *Notifier) Attach(bus *event.Bus) *event.Subscription {
	return bus.Subscribe(n.enqueue)
}

// enqueue はイベントをバッファに積む。満杯の場合は破棄する。
func (n *Notifier) enqueue(ev event.SessionEvent) {
	select {
	case n.events <- ev:
	default:
		n.logger.Warn("session event dropped: buffer full",
			slog.String("kind", string(ev.Kind)),
		)
	}
}

// Run はctxがキャンセルされるまでバッファのイベントを送出する。
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.events:
			n.send(ctx, ev)
		}
	}
}

func (n *Notifier) send(ctx context.Context, ev event.SessionEvent) {
	body, err := json.Marshal(n.toMessage(ev))
	if err != nil {
		n.logger.Error("failed to marshal session event", slog.String("error", err.Error()))
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if err := n.publish(pubCtx, body); err != nil {
		n.logger.Error("failed to publish session event",
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

func (n *Notifier) toMessage(ev event.SessionEvent) Message {
	msg := Message{
		Kind:       string(ev.Kind),
		OccurredAt: n.now().UTC(),
	}
	if ev.Session != nil {
		msg.UserID = ev.Session.UserID
		// 削除済みセッションのサインアウトでは有効期限が分からない
		if !ev.Session.ExpiresAt.IsZero() {
			expiresAt := ev.Session.ExpiresAt.UTC()
			msg.ExpiresAt = &expiresAt
		}
	}
	if ev.User != nil {
		msg.UserID = ev.User.ID
		msg.Email = ev.User.Email
	}
	return msg
}
