// Package meeting は会議の作成・状態遷移・文字起こしを管理する。
package meeting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/meetsprint/internal/model"
	"github.com/hitoshi/meetsprint/internal/repository"
	"github.com/hitoshi/meetsprint/internal/security"
)

// 文字起こしインポートの結果。メトリクスのラベルに使う。
const (
	ImportOK      = "ok"
	ImportInvalid = "invalid"
	ImportBlocked = "blocked"
	ImportFailed  = "failed"
)

// MaxTitleLength は会議タイトルの最大文字数。
const MaxTitleLength = 200

// Metrics は会議処理のメトリクス記録インターフェース。
type Metrics interface {
	RecordTranscriptImport(result string)
}

// CreateInput は会議作成の入力。
type CreateInput struct {
	Title           string
	Description     string
	Date            *time.Time
	DurationMinutes *int
	VideoURL        *string
}

// Service は会議のユースケースを提供する。
type Service struct {
	meetings  repository.MeetingRepository
	profiles  repository.ProfileRepository
	guard     security.URLGuard
	fetcher   TranscriptFetcher
	sanitizer security.TextSanitizer
	metrics   Metrics
	now       func() time.Time
}

// NewService はServiceを生成する。metricsはnilでもよい。
func NewService(
	meetings repository.MeetingRepository,
	profiles repository.ProfileRepository,
	guard security.URLGuard,
	fetcher TranscriptFetcher,
	sanitizer security.TextSanitizer,
	metrics Metrics,
) *Service {
	return &Service{
		meetings:  meetings,
		profiles:  profiles,
		guard:     guard,
		fetcher:   fetcher,
		sanitizer: sanitizer,
		metrics:   metrics,
		now:       time.Now,
	}
}

// List はユーザーの会議を開催日時の降順で返す。
func (s *Service) List(ctx context.Context, userID string, filter repository.MeetingFilter) ([]*model.Meeting, error) {
	meetings, err := s.meetings.ListByUserID(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list meetings: %w", err)
	}
	return meetings, nil
}

// Create は会議を scheduled 状態で作成する。組織はユーザーのプロフィールから引き継ぐ。
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*model.Meeting, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" || len([]rune(title)) > MaxTitleLength {
		return nil, model.NewInvalidTitleError()
	}
	if in.DurationMinutes != nil && *in.DurationMinutes < 0 {
		return nil, model.NewInvalidRequestError("会議時間は0分以上で指定してください")
	}

	var videoURL *string
	if in.VideoURL != nil && strings.TrimSpace(*in.VideoURL) != "" {
		v := strings.TrimSpace(*in.VideoURL)
		if err := s.guard.ValidateURL(v); err != nil {
			return nil, urlError(err)
		}
		videoURL = &v
	}

	profile, err := s.profiles.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}

	now := s.now()
	date := now
	if in.Date != nil {
		date = *in.Date
	}

	m := &model.Meeting{
		ID:              uuid.New().String(),
		UserID:          userID,
		Title:           title,
		Description:     strings.TrimSpace(in.Description),
		Date:            date,
		DurationMinutes: in.DurationMinutes,
		VideoURL:        videoURL,
		Status:          model.MeetingScheduled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if profile != nil {
		m.OrganizationID = profile.OrganizationID
	}

	if err := s.meetings.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to create meeting: %w", err)
	}
	return m, nil
}

// ChangeStatus は会議の状態を遷移させる。
// 遷移表にない遷移と、同時更新で前提の状態が変わっていた場合は INVALID_TRANSITION を返す。
func (s *Service) ChangeStatus(ctx context.Context, userID, meetingID, status string) (*model.Meeting, error) {
	next, err := model.ParseMeetingStatus(status)
	if err != nil {
		return nil, model.NewInvalidStatusError(status)
	}

	m, err := s.findOwned(ctx, userID, meetingID)
	if err != nil {
		return nil, err
	}
	if !m.Status.CanTransitionTo(next) {
		return nil, model.NewInvalidTransitionError(string(m.Status), string(next))
	}

	updated, err := s.meetings.UpdateStatus(ctx, m.ID, m.Status, next)
	if err != nil {
		return nil, fmt.Errorf("failed to update meeting status: %w", err)
	}
	if !updated {
		return nil, model.NewInvalidTransitionError(string(m.Status), string(next))
	}

	m.Status = next
	m.UpdatedAt = s.now()
	return m, nil
}

// SetTranscription は文字起こしをサニタイズして保存する。
func (s *Service) SetTranscription(ctx context.Context, userID, meetingID, text string) (*model.Meeting, error) {
	m, err := s.findOwned(ctx, userID, meetingID)
	if err != nil {
		return nil, err
	}

	clean := s.sanitizer.Sanitize(text)
	if err := s.meetings.UpdateTranscription(ctx, m.ID, clean); err != nil {
		return nil, fmt.Errorf("failed to save transcription: %w", err)
	}
	m.Transcription = &clean
	return m, nil
}

// ImportTranscription は外部URLから文字起こしを取得し、サニタイズして保存する。
func (s *Service) ImportTranscription(ctx context.Context, userID, meetingID, rawURL string) (*model.Meeting, error) {
	m, err := s.findOwned(ctx, userID, meetingID)
	if err != nil {
		return nil, err
	}

	rawURL = strings.TrimSpace(rawURL)
	if err := s.guard.ValidateURL(rawURL); err != nil {
		apiErr := urlError(err)
		if apiErr.Code == model.ErrCodeSSRFBlocked {
			s.recordImport(ImportBlocked)
		} else {
			s.recordImport(ImportInvalid)
		}
		return nil, apiErr
	}

	body, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		slog.Warn("transcript import failed",
			slog.String("meeting_id", m.ID),
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		s.recordImport(ImportFailed)
		if errors.Is(err, errTooLarge) {
			return nil, model.NewFetchFailedError("文字起こしのサイズが上限を超えています")
		}
		return nil, model.NewFetchFailedError("文字起こしを取得できませんでした")
	}

	clean := s.sanitizer.Sanitize(body)
	if err := s.meetings.UpdateTranscription(ctx, m.ID, clean); err != nil {
		s.recordImport(ImportFailed)
		return nil, fmt.Errorf("failed to save transcription: %w", err)
	}

	s.recordImport(ImportOK)
	slog.Info("transcript imported",
		slog.String("meeting_id", m.ID),
		slog.Int("bytes", len(clean)),
	)
	m.Transcription = &clean
	return m, nil
}

// findOwned は会議を取得する。存在しない場合と他人の会議の場合はどちらも MEETING_NOT_FOUND を返す。
func (s *Service) findOwned(ctx context.Context, userID, meetingID string) (*model.Meeting, error) {
	if _, err := uuid.Parse(meetingID); err != nil {
		return nil, model.NewMeetingNotFoundError(meetingID)
	}
	m, err := s.meetings.FindByID(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("failed to find meeting: %w", err)
	}
	if m == nil || m.UserID != userID {
		return nil, model.NewMeetingNotFoundError(meetingID)
	}
	return m, nil
}

func (s *Service) recordImport(result string) {
	if s.metrics != nil {
		s.metrics.RecordTranscriptImport(result)
	}
}

func urlError(err error) *model.APIError {
	if errors.Is(err, security.ErrBlockedURL) {
		return model.NewSSRFBlockedError()
	}
	return model.NewInvalidURLError(err.Error())
}
