// Package organization はオンボーディングでの組織作成を提供する。
package organization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/meetsprint/internal/model"
	"github.com/hitoshi/meetsprint/internal/repository"
)

// MaxNameLength は組織名の最大文字数。
const MaxNameLength = 100

// Metrics は組織作成のメトリクス記録インターフェース。
type Metrics interface {
	RecordOrganizationCreated()
}

// UserFinder はIDでユーザーを取得する。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// ProfileResolver はユーザーのプロフィールをfetch-or-createで解決する。
type ProfileResolver interface {
	FetchOrCreate(ctx context.Context, user *model.User) (*model.Profile, error)
}

// Service は組織の作成を行う。
type Service struct {
	repo     repository.OrganizationRepository
	metrics  Metrics
	users    UserFinder
	profiles ProfileResolver
	now      func() time.Time
}

// NewService はServiceを生成する。metricsはnilでもよい。
func NewService(repo repository.OrganizationRepository, metrics Metrics) *Service {
	return &Service{repo: repo, metrics: metrics, now: time.Now}
}

// WithProfiles はプロフィールが未保存のときに作成し直すための依存を設定する。
// 設定しない場合、プロフィールのないユーザーはUSER_NOT_FOUNDになる。
func (s *Service) WithProfiles(users UserFinder, profiles ProfileResolver) *Service {
	s.users = users
	s.profiles = profiles
	return s
}

// Create は組織を作成し、オーナーを admin として紐付ける。
//
// 名前は前後の空白を除いて検証し、空または100文字を超える場合はストアに触れずに
// バリデーションエラーを返す。オーナーが既に組織に所属している場合は
// ALREADY_ONBOARDED エラーを返す。
func (s *Service) Create(ctx context.Context, ownerID, name string) (*model.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.NewInvalidOrganizationNameError("組織名を入力してください")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return nil, model.NewInvalidOrganizationNameError(
			fmt.Sprintf("組織名は%d文字以内で入力してください", MaxNameLength))
	}

	now := s.now()
	org := &model.Organization{
		ID:        uuid.New().String(),
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.repo.CreateForOwner(ctx, org)
	if errors.Is(err, repository.ErrProfileNotFound) {
		// 一時プロフィールのままのユーザーは、ここで保存してからやり直す
		persisted, rerr := s.reconcileProfile(ctx, ownerID)
		if rerr != nil {
			return nil, fmt.Errorf("failed to create organization: %w", rerr)
		}
		if persisted {
			err = s.repo.CreateForOwner(ctx, org)
		}
	}
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyOnboarded):
			return nil, model.NewAlreadyOnboardedError()
		case errors.Is(err, repository.ErrProfileNotFound):
			return nil, model.NewUserNotFoundError()
		}
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordOrganizationCreated()
	}
	slog.Info("organization created",
		slog.String("organization_id", org.ID),
		slog.String("owner_id", ownerID),
	)
	return org, nil
}

// reconcileProfile はオーナーのプロフィールをfetch-or-createし、保存できたかどうかを返す。
// ユーザー自体が存在しない場合は(false, nil)。
func (s *Service) reconcileProfile(ctx context.Context, ownerID string) (bool, error) {
	if s.users == nil || s.profiles == nil {
		return false, nil
	}
	user, err := s.users.FindByID(ctx, ownerID)
	if err != nil {
		return false, fmt.Errorf("failed to find owner: %w", err)
	}
	if user == nil {
		return false, nil
	}
	profile, err := s.profiles.FetchOrCreate(ctx, user)
	if err != nil {
		return false, fmt.Errorf("failed to resolve owner profile: %w", err)
	}
	if profile.Transient {
		return false, errors.New("owner profile is not persisted")
	}
	slog.Info("owner profile reconciled before onboarding", slog.String("owner_id", ownerID))
	return true, nil
}
