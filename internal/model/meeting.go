package model

import (
	"fmt"
	"time"
)

// MeetingStatus は会議の進行状態。
type MeetingStatus string

const (
	MeetingScheduled  MeetingStatus = "scheduled"
	MeetingInProgress MeetingStatus = "in_progress"
	MeetingCompleted  MeetingStatus = "completed"
	MeetingCancelled  MeetingStatus = "cancelled"
)

// ParseMeetingStatus は文字列をMeetingStatusに変換する。未知の値はエラーとする。
func ParseMeetingStatus(s string) (MeetingStatus, error) {
	switch MeetingStatus(s) {
	case MeetingScheduled, MeetingInProgress, MeetingCompleted, MeetingCancelled:
		return MeetingStatus(s), nil
	default:
		return "", fmt.Errorf("unknown meeting status: %q", s)
	}
}

// Terminal は終端状態かどうかを返す。
func (s MeetingStatus) Terminal() bool {
	return s == MeetingCompleted || s == MeetingCancelled
}

// CanTransitionTo は next への遷移が許可されているかを返す。
// scheduled → in_progress → completed の順に進み、
// 終端状態以外からはいつでも cancelled に移れる。
func (s MeetingStatus) CanTransitionTo(next MeetingStatus) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case MeetingCancelled:
		return true
	case MeetingInProgress:
		return s == MeetingScheduled
	case MeetingCompleted:
		return s == MeetingInProgress
	default:
		return false
	}
}

// Meeting は会議の記録。
type Meeting struct {
	ID              string
	UserID          string
	OrganizationID  *string
	Title           string
	Description     string
	Date            time.Time
	DurationMinutes *int
	VideoURL        *string
	Transcription   *string
	Status          MeetingStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
