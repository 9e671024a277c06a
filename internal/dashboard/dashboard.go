// Package dashboard はダッシュボードに表示する会議・タスクの取得と集計を提供する。
package dashboard

import (
	"context"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/meetsprint/internal/model"
	"github.com/hitoshi/meetsprint/internal/repository"
)

// 読み込み元の名前。メトリクスのラベルに使う。
const (
	SourceMeetings = "meetings"
	SourceTasks    = "tasks"
)

// Metrics はダッシュボードのメトリクス記録インターフェース。
type Metrics interface {
	RecordDashboardReadFailure(source string)
}

// Data はダッシュボードの表示データ。
type Data struct {
	Meetings []*model.Meeting
	Tasks    []*model.Task
	Metrics  Summary
}

// Summary は会議・タスクの集計値。
type Summary struct {
	TotalMeetings     int `json:"totalMeetings"`
	CompletedMeetings int `json:"completedMeetings"`
	TotalTasks        int `json:"totalTasks"`
	TodoTasks         int `json:"todoTasks"`
	DoingTasks        int `json:"doingTasks"`
	DoneTasks         int `json:"doneTasks"`
	CompletionRate    int `json:"completionRate"`
	HoursRecorded     int `json:"hoursRecorded"`
}

// Service はダッシュボードのデータ取得を行う。
type Service struct {
	meetings repository.MeetingRepository
	tasks    repository.TaskRepository
	metrics  Metrics
}

// NewService はServiceを生成する。metricsはnilでもよい。
func NewService(meetings repository.MeetingRepository, tasks repository.TaskRepository, metrics Metrics) *Service {
	return &Service{meetings: meetings, tasks: tasks, metrics: metrics}
}

// Load はユーザーの会議（開催日時の降順）とタスク（作成日時の降順）を並行に読み込み、集計する。
// 片方の読み込みに失敗した場合はログに記録して空として扱い、常に結果を返す。
func (s *Service) Load(ctx context.Context, userID string) *Data {
	var (
		meetings []*model.Meeting
		tasks    []*model.Task
	)

	var g errgroup.Group
	g.Go(func() error {
		list, err := s.meetings.ListByUserID(ctx, userID, repository.MeetingFilter{})
		if err != nil {
			s.readFailed(SourceMeetings, userID, err)
			return nil
		}
		meetings = list
		return nil
	})
	g.Go(func() error {
		list, err := s.tasks.ListByCreator(ctx, userID, repository.TaskFilter{})
		if err != nil {
			s.readFailed(SourceTasks, userID, err)
			return nil
		}
		tasks = list
		return nil
	})
	_ = g.Wait()

	if meetings == nil {
		meetings = []*model.Meeting{}
	}
	if tasks == nil {
		tasks = []*model.Task{}
	}

	return &Data{
		Meetings: meetings,
		Tasks:    tasks,
		Metrics:  ComputeMetrics(meetings, tasks),
	}
}

func (s *Service) readFailed(source, userID string, err error) {
	slog.Warn("dashboard read failed, treating as empty",
		slog.String("source", source),
		slog.String("user_id", userID),
		slog.String("error", err.Error()),
	)
	if s.metrics != nil {
		s.metrics.RecordDashboardReadFailure(source)
	}
}

// ComputeMetrics は会議・タスクの集計値を計算する。
// 完了率と記録時間は四捨五入（0.5は0から遠い方へ）する。タスクが0件の場合、完了率は0。
func ComputeMetrics(meetings []*model.Meeting, tasks []*model.Task) Summary {
	sum := Summary{
		TotalMeetings: len(meetings),
		TotalTasks:    len(tasks),
	}

	minutes := 0
	for _, m := range meetings {
		if m.Status == model.MeetingCompleted {
			sum.CompletedMeetings++
		}
		if m.DurationMinutes != nil {
			minutes += *m.DurationMinutes
		}
	}
	sum.HoursRecorded = int(math.Round(float64(minutes) / 60))

	for _, t := range tasks {
		switch t.Status {
		case model.TaskTodo:
			sum.TodoTasks++
		case model.TaskDoing:
			sum.DoingTasks++
		case model.TaskDone:
			sum.DoneTasks++
		}
	}
	if sum.TotalTasks > 0 {
		sum.CompletionRate = int(math.Round(float64(sum.DoneTasks) / float64(sum.TotalTasks) * 100))
	}

	return sum
}
