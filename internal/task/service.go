// Package task は会議から生まれたタスクを管理する。
package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/meetsprint/internal/model"
	"github.com/hitoshi/meetsprint/internal/repository"
)

// MaxTitleLength はタスクタイトルの最大文字数。
const MaxTitleLength = 200

// CreateInput はタスク作成の入力。
type CreateInput struct {
	Title       string
	Description string
	Priority    string
	MeetingID   *string
	AssigneeID  *string
	DueDate     *time.Time
}

// Service はタスクのユースケースを提供する。
type Service struct {
	tasks    repository.TaskRepository
	meetings repository.MeetingRepository
	profiles repository.ProfileRepository
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(tasks repository.TaskRepository, meetings repository.MeetingRepository, profiles repository.ProfileRepository) *Service {
	return &Service{tasks: tasks, meetings: meetings, profiles: profiles, now: time.Now}
}

// List は作成者のタスクを作成日時の降順で返す。
func (s *Service) List(ctx context.Context, userID string, filter repository.TaskFilter) ([]*model.Task, error) {
	tasks, err := s.tasks.ListByCreator(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// Create はタスクを todo 状態で作成する。優先度の省略時は medium。
// 会議を指定する場合は自分の会議に限る。担当者は同じ組織のプロフィールに限る。
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*model.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" || len([]rune(title)) > MaxTitleLength {
		return nil, model.NewInvalidTitleError()
	}

	priority := model.PriorityMedium
	if p := strings.TrimSpace(in.Priority); p != "" {
		parsed, err := model.ParseTaskPriority(p)
		if err != nil {
			return nil, model.NewInvalidPriorityError(p)
		}
		priority = parsed
	}

	if in.MeetingID != nil {
		if err := s.checkMeeting(ctx, userID, *in.MeetingID); err != nil {
			return nil, err
		}
	}

	creator, err := s.profiles.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	var orgID *string
	if creator != nil {
		orgID = creator.OrganizationID
	}

	if in.AssigneeID != nil {
		if err := s.checkAssignee(ctx, userID, orgID, *in.AssigneeID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	t := &model.Task{
		ID:             uuid.New().String(),
		MeetingID:      in.MeetingID,
		OrganizationID: orgID,
		Title:          title,
		Description:    strings.TrimSpace(in.Description),
		Status:         model.TaskTodo,
		Priority:       priority,
		AssigneeID:     in.AssigneeID,
		DueDate:        in.DueDate,
		CreatedBy:      userID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.tasks.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return t, nil
}

// ChangeStatus はタスクの状態を進める。後戻りと同じ状態への遷移は INVALID_TRANSITION。
func (s *Service) ChangeStatus(ctx context.Context, userID, taskID, status string) (*model.Task, error) {
	next, err := model.ParseTaskStatus(status)
	if err != nil {
		return nil, model.NewInvalidStatusError(status)
	}

	t, err := s.findOwned(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if !t.Status.CanTransitionTo(next) {
		return nil, model.NewInvalidTransitionError(string(t.Status), string(next))
	}

	updated, err := s.tasks.UpdateStatus(ctx, t.ID, t.Status, next)
	if err != nil {
		return nil, fmt.Errorf("failed to update task status: %w", err)
	}
	if !updated {
		return nil, model.NewInvalidTransitionError(string(t.Status), string(next))
	}

	t.Status = next
	t.UpdatedAt = s.now()
	return t, nil
}

// Assign はタスクの担当者を設定する。nilの場合は担当者を外す。
func (s *Service) Assign(ctx context.Context, userID, taskID string, assigneeID *string) (*model.Task, error) {
	t, err := s.findOwned(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}

	if assigneeID != nil {
		if err := s.checkAssignee(ctx, userID, t.OrganizationID, *assigneeID); err != nil {
			return nil, err
		}
	}

	if err := s.tasks.UpdateAssignee(ctx, t.ID, assigneeID); err != nil {
		return nil, fmt.Errorf("failed to update assignee: %w", err)
	}
	t.AssigneeID = assigneeID
	t.UpdatedAt = s.now()
	return t, nil
}

func (s *Service) findOwned(ctx context.Context, userID, taskID string) (*model.Task, error) {
	if _, err := uuid.Parse(taskID); err != nil {
		return nil, model.NewTaskNotFoundError(taskID)
	}
	t, err := s.tasks.FindByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	if t == nil || t.CreatedBy != userID {
		return nil, model.NewTaskNotFoundError(taskID)
	}
	return t, nil
}

func (s *Service) checkMeeting(ctx context.Context, userID, meetingID string) error {
	if _, err := uuid.Parse(meetingID); err != nil {
		return model.NewMeetingNotFoundError(meetingID)
	}
	m, err := s.meetings.FindByID(ctx, meetingID)
	if err != nil {
		return fmt.Errorf("failed to find meeting: %w", err)
	}
	if m == nil || m.UserID != userID {
		return model.NewMeetingNotFoundError(meetingID)
	}
	return nil
}

// checkAssignee は担当者がタスクと同じ組織に所属しているかを検証する。
// 組織に属さないタスクは作成者本人だけを担当者にできる。
func (s *Service) checkAssignee(ctx context.Context, userID string, orgID *string, assigneeID string) error {
	if orgID == nil || *orgID == "" {
		if assigneeID == userID {
			return nil
		}
		return model.NewInvalidAssigneeError()
	}

	if _, err := uuid.Parse(assigneeID); err != nil {
		return model.NewInvalidAssigneeError()
	}
	assignee, err := s.profiles.FindByID(ctx, assigneeID)
	if err != nil {
		return fmt.Errorf("failed to find assignee: %w", err)
	}
	if assignee == nil || assignee.OrganizationID == nil || *assignee.OrganizationID != *orgID {
		return model.NewInvalidAssigneeError()
	}
	return nil
}
