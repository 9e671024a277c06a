// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/meetsprint/internal/model"
)

// ErrAlreadyOnboarded はプロフィールが既に組織を参照している場合に返される。
var ErrAlreadyOnboarded = errors.New("profile already belongs to an organization")

// ErrProfileNotFound は組織作成時にオーナーのプロフィールが存在しない場合に返される。
var ErrProfileNotFound = errors.New("profile not found")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateFromProvider はログイン時にIdPから取得した表示名とアバターを反映する。
	UpdateFromProvider(ctx context.Context, id, name, avatarURL string) error

	// DeleteByID は指定IDのユーザーを削除する。
	// identities、profiles、meetings、tasksはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
// PostgreSQLとRedisの2つの実装がある。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// UpdateExpiry はセッションの有効期限を延長する。
	UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// Upsert はプロフィールをid衝突時に既存行を優先して作成し、永続化された行を返す。
	// 同じIDで同時に作成された場合でも、両方の呼び出し元が同じ行を受け取る。
	Upsert(ctx context.Context, profile *model.Profile) (*model.Profile, error)

	// ListByOrganization は組織に所属するプロフィールを返す。
	ListByOrganization(ctx context.Context, organizationID string) ([]*model.Profile, error)
}

// OrganizationRepository は組織の永続化インターフェース。
type OrganizationRepository interface {
	// FindByID は指定IDの組織を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Organization, error)

	// CreateForOwner は組織を作成し、オーナーのプロフィールを admin として紐付ける。
	// 両方の書き込みを1トランザクションで行う。
	// オーナーが既に組織に所属している場合は ErrAlreadyOnboarded を返す。
	CreateForOwner(ctx context.Context, org *model.Organization) error
}

// MeetingRepository は会議の永続化インターフェース。
type MeetingRepository interface {
	// FindByID は指定IDの会議を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Meeting, error)
	// ListByUserID はユーザーの会議を開催日時の降順で返す。
	ListByUserID(ctx context.Context, userID string, filter MeetingFilter) ([]*model.Meeting, error)
	// Create は会議を作成する。
	Create(ctx context.Context, meeting *model.Meeting) error
	// UpdateStatus は現在のステータスが from の場合に限り to へ更新する。
	// 更新できた場合はtrueを返す。
	UpdateStatus(ctx context.Context, id string, from, to model.MeetingStatus) (bool, error)
	// UpdateTranscription は文字起こしを更新する。
	UpdateTranscription(ctx context.Context, id, transcription string) error
}

// MeetingFilter は会議一覧の絞り込み条件。ゼロ値は全件。
type MeetingFilter struct {
	Status *model.MeetingStatus
	Limit  uint64
}

// TaskRepository はタスクの永続化インターフェース。
type TaskRepository interface {
	// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Task, error)
	// ListByCreator は作成者のタスクを作成日時の降順で返す。
	ListByCreator(ctx context.Context, userID string, filter TaskFilter) ([]*model.Task, error)
	// Create はタスクを作成する。
	Create(ctx context.Context, task *model.Task) error
	// UpdateStatus は現在のステータスが from の場合に限り to へ更新する。
	UpdateStatus(ctx context.Context, id string, from, to model.TaskStatus) (bool, error)
	// UpdateAssignee は担当者を更新する。nilで担当者を外す。
	UpdateAssignee(ctx context.Context, id string, assigneeID *string) error
}

// TaskFilter はタスク一覧の絞り込み条件。ゼロ値は全件。
type TaskFilter struct {
	Status    *model.TaskStatus
	MeetingID *string
	Limit     uint64
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
