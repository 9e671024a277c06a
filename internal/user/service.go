// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/meetsprint/internal/event"
	"github.com/hitoshi/meetsprint/internal/model"
	"github.com/hitoshi/meetsprint/internal/repository"
)

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	events      event.Publisher
}

// NewService はServiceを生成する。eventsはnilでもよい。
func NewService(userRepo repository.UserRepository, sessionRepo repository.SessionRepository, events event.Publisher) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		events:      events,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: sessions → user（+ CASCADE: identities, profiles, 所有する組織, meetings, tasks）
// セッションはRedisに保存されている場合もあるため、CASCADEに頼らず先に削除する。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("withdrawal started", slog.String("user_id", userID))

	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}

	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	if s.events != nil {
		s.events.Publish(event.SessionEvent{Kind: event.SignedOut, User: user})
	}

	slog.Info("withdrawal completed", slog.String("user_id", userID))
	return nil
}
