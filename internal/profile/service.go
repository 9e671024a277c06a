// Package profile はアプリケーション側のユーザープロフィールを管理する。
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/meetsprint/internal/model"
	"github.com/hitoshi/meetsprint/internal/repository"
)

// Metrics はプロフィール処理のメトリクス記録インターフェース。
type Metrics interface {
	RecordProfileFallback()
}

// Service はプロフィールのfetch-or-createを提供する。
type Service struct {
	repo    repository.ProfileRepository
	metrics Metrics
	now     func() time.Time
}

// NewService はServiceを生成する。metricsはnilでもよい。
func NewService(repo repository.ProfileRepository, metrics Metrics) *Service {
	return &Service{repo: repo, metrics: metrics, now: time.Now}
}

// FetchOrCreate はユーザーのプロフィールを取得し、存在しなければ作成する。
//
// 既存のプロフィールはそのまま返す。作成はid衝突時に既存行を返すupsertで行うため、
// 同じユーザーで同時に呼ばれても行は1つだけになる。
// 書き込みに失敗した場合は永続化されていない一時プロフィール（Transient=true）を返す。
// 一時プロフィールは次回のFetchOrCreateで再度保存を試みる。
// 読み込みに失敗した場合はエラーを返す。
func (s *Service) FetchOrCreate(ctx context.Context, user *model.User) (*model.Profile, error) {
	if user == nil {
		return nil, fmt.Errorf("user is required")
	}

	existing, err := s.repo.FindByID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	draft := model.NewDefaultProfile(user, s.now())
	saved, err := s.repo.Upsert(ctx, draft)
	if err != nil {
		slog.Warn("profile upsert failed, using transient profile",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		if s.metrics != nil {
			s.metrics.RecordProfileFallback()
		}
		draft.Transient = true
		return draft, nil
	}

	slog.Info("profile created", slog.String("user_id", user.ID))
	return saved, nil
}

// Get は指定IDのプロフィールを返す。見つからない場合はnilを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Profile, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	return p, nil
}
