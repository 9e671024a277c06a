// Package auth はOAuth認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/meetsprint/internal/event"
	"github.com/hitoshi/meetsprint/internal/model"
	"github.com/hitoshi/meetsprint/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	AvatarURL      string
	Provider       string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// Name はプロバイダー名（"google"）を返す。
	Name() string
	// RedirectURL はプロバイダーに登録されたコールバックURLを返す。
	RedirectURL() string
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string, params map[string]string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ErrUnsupportedProvider は未対応のOAuthプロバイダーが指定された場合に返される。
var ErrUnsupportedProvider = errors.New("unsupported oauth provider")

// ErrRedirectNotAllowed は登録外のコールバックURLが指定された場合に返される。
var ErrRedirectNotAllowed = errors.New("redirect url not allowed")

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	tokens      *TokenCodec
	events      event.Publisher
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。eventsがnilの場合はイベントを発行しない。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	tokens *TokenCodec,
	events event.Publisher,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		tokens:      tokens,
		events:      events,
		config:      config,
		now:         time.Now,
	}
}

// GetLoginURL は登録済みのコールバックURLでOAuth認証URLを生成する。
// paramsは認可リクエストに追加するクエリパラメータ。
func (s *Service) GetLoginURL(state string, params map[string]string) string {
	return s.oauth.GetLoginURL(state, params)
}

// LoginURL はプロバイダーとコールバックURLを検証してOAuth認証URLを生成する。
// redirectURLが空の場合は登録済みのコールバックURLを使う。
func (s *Service) LoginURL(provider, redirectURL, state string, params map[string]string) (string, error) {
	if provider != s.oauth.Name() {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	if redirectURL != "" && redirectURL != s.oauth.RedirectURL() {
		return "", fmt.Errorf("%w: %s", ErrRedirectNotAllowed, redirectURL)
	}
	return s.GetLoginURL(state, params), nil
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録ユーザーの場合はusersレコードとidentitiesレコードを同時に自動作成する。
// 登録済みユーザーの場合はIdPの表示名とアバターを反映してログインする。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, *model.User, error) {
	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. identitiesテーブルで既存ユーザーを検索
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, userInfo.Provider, userInfo.ProviderUserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find identity: %w", err)
	}

	var user *model.User
	if identity != nil {
		user, err = s.loginExisting(ctx, identity.UserID, userInfo)
	} else {
		user, err = s.registerNew(ctx, userInfo)
	}
	if err != nil {
		return nil, nil, err
	}

	// 3. セッションを発行
	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.publish(event.SessionEvent{Kind: event.SignedIn, Session: session, User: user})
	return session, user, nil
}

func (s *Service) loginExisting(ctx context.Context, userID string, info *OAuthUserInfo) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user not found for identity")
	}

	if user.Name != info.Name || user.AvatarURL != info.AvatarURL {
		// 表示情報の更新に失敗してもログインは継続する
		if err := s.userRepo.UpdateFromProvider(ctx, user.ID, info.Name, info.AvatarURL); err != nil {
			slog.Warn("failed to refresh user from provider",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		} else {
			user.Name = info.Name
			user.AvatarURL = info.AvatarURL
		}
	}

	slog.Info("existing user logged in",
		slog.String("user_id", user.ID),
		slog.String("provider", info.Provider),
	)
	return user, nil
}

func (s *Service) registerNew(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	now := s.now()
	user := &model.User{
		ID:        uuid.New().String(),
		Email:     info.Email,
		Name:      info.Name,
		AvatarURL: info.AvatarURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	identity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      now,
	}

	if err := s.userRepo.CreateWithIdentity(ctx, user, identity); err != nil {
		return nil, fmt.Errorf("failed to create user and identity: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", info.Provider),
	)
	return user, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to find session: %w", err)
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if session == nil {
		session = &model.Session{ID: sessionID}
	}
	s.publish(event.SessionEvent{Kind: event.SignedOut, Session: session})

	slog.Info("user logged out", slog.String("user_id", session.UserID))
	return nil
}

// GetSession は有効なセッションとそのユーザーを返す。
// セッションが存在しない、期限切れ、またはユーザーが削除済みの場合はnilを返す。
func (s *Service) GetSession(ctx context.Context, sessionID string) (*model.Session, *model.User, error) {
	if sessionID == "" {
		return nil, nil, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.Expired(s.now()) {
		return nil, nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, nil, nil
	}
	return session, user, nil
}

// ResolveToken はセッションCookieのトークンを検証し、有効なセッションを返す。
// トークンが不正な場合は未認証として扱い、nilを返す。
func (s *Service) ResolveToken(ctx context.Context, token string) (*model.Session, *model.User, error) {
	sessionID, userID, err := s.tokens.Decode(token)
	if err != nil {
		slog.Debug("rejected session token", slog.String("error", err.Error()))
		return nil, nil, nil
	}

	session, user, err := s.GetSession(ctx, sessionID)
	if err != nil || session == nil {
		return nil, nil, err
	}
	if session.UserID != userID {
		slog.Warn("session token subject mismatch", slog.String("user_id", session.UserID))
		return nil, nil, nil
	}
	return session, user, nil
}

// IssueToken はセッションCookieに格納するトークンを発行する。
func (s *Service) IssueToken(session *model.Session) (string, error) {
	return s.tokens.Encode(session)
}

// RefreshSession は残り有効期間が最大有効期間の半分を下回った場合に期限を延長する。
// 延長した場合は更新後のセッションとtrueを返す。
func (s *Service) RefreshSession(ctx context.Context, session *model.Session) (*model.Session, bool, error) {
	maxAge := time.Duration(s.config.SessionMaxAge) * time.Second
	now := s.now()
	if session.ExpiresAt.Sub(now) >= maxAge/2 {
		return session, false, nil
	}

	refreshed := *session
	refreshed.ExpiresAt = now.Add(maxAge)
	if err := s.sessionRepo.UpdateExpiry(ctx, session.ID, refreshed.ExpiresAt); err != nil {
		return nil, false, fmt.Errorf("failed to extend session: %w", err)
	}

	s.publish(event.SessionEvent{Kind: event.TokenRefreshed, Session: &refreshed})
	return &refreshed, true, nil
}

// SessionMaxAge はセッションの最大有効期間を返す。
func (s *Service) SessionMaxAge() time.Duration {
	return time.Duration(s.config.SessionMaxAge) * time.Second
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

func (s *Service) publish(ev event.SessionEvent) {
	if s.events != nil {
		s.events.Publish(ev)
	}
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
