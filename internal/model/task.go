package model

import (
	"fmt"
	"time"
)

// TaskStatus はカンバン上のタスクの列。
type TaskStatus string

const (
	TaskTodo  TaskStatus = "todo"
	TaskDoing TaskStatus = "doing"
	TaskDone  TaskStatus = "done"
)

// ParseTaskStatus は文字列をTaskStatusに変換する。未知の値はエラーとする。
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch TaskStatus(s) {
	case TaskTodo, TaskDoing, TaskDone:
		return TaskStatus(s), nil
	default:
		return "", fmt.Errorf("unknown task status: %q", s)
	}
}

func (s TaskStatus) rank() int {
	switch s {
	case TaskTodo:
		return 0
	case TaskDoing:
		return 1
	case TaskDone:
		return 2
	default:
		return -1
	}
}

// CanTransitionTo は next への遷移が許可されているかを返す。
// タスクは todo → doing → done の方向にのみ進む。
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if s.rank() < 0 || next.rank() < 0 {
		return false
	}
	return next.rank() > s.rank()
}

// TaskPriority はタスクの優先度。
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// ParseTaskPriority は文字列をTaskPriorityに変換する。未知の値はエラーとする。
func ParseTaskPriority(s string) (TaskPriority, error) {
	switch TaskPriority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return TaskPriority(s), nil
	default:
		return "", fmt.Errorf("unknown task priority: %q", s)
	}
}

// Task は会議から生まれたアクションアイテム。
type Task struct {
	ID             string
	MeetingID      *string
	OrganizationID *string
	Title          string
	Description    string
	Status         TaskStatus
	Priority       TaskPriority
	AssigneeID     *string
	DueDate        *time.Time
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
