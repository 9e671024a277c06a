package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"

	"github.com/hitoshi/meetsprint/internal/model"
)

var taskColumns = []string{
	"id", "meeting_id", "organization_id", "title", "description", "status", "priority",
	"assignee_id", "due_date", "created_by", "created_at", "updated_at",
}

// PostgresTaskRepo はPostgreSQLを使用したタスクリポジトリ。
type PostgresTaskRepo struct {
	db *sql.DB
}

// NewPostgresTaskRepo はPostgresTaskRepoを生成する。
func NewPostgresTaskRepo(db *sql.DB) *PostgresTaskRepo {
	return &PostgresTaskRepo{db: db}
}

type taskRow struct {
	ID             string         `db:"id"`
	MeetingID      sql.NullString `db:"meeting_id"`
	OrganizationID sql.NullString `db:"organization_id"`
	Title          string         `db:"title"`
	Description    string         `db:"description"`
	Status         string         `db:"status"`
	Priority       string         `db:"priority"`
	AssigneeID     sql.NullString `db:"assignee_id"`
	DueDate        sql.NullTime   `db:"due_date"`
	CreatedBy      string         `db:"created_by"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r taskRow) toModel() (*model.Task, error) {
	status, err := model.ParseTaskStatus(r.Status)
	if err != nil {
		return nil, fmt.Errorf("invalid task row %s: %w", r.ID, err)
	}
	priority, err := model.ParseTaskPriority(r.Priority)
	if err != nil {
		return nil, fmt.Errorf("invalid task row %s: %w", r.ID, err)
	}

	t := &model.Task{
		ID:             r.ID,
		MeetingID:      nullStringPtr(r.MeetingID),
		OrganizationID: nullStringPtr(r.OrganizationID),
		Title:          r.Title,
		Description:    r.Description,
		Status:         status,
		Priority:       priority,
		AssigneeID:     nullStringPtr(r.AssigneeID),
		CreatedBy:      r.CreatedBy,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.DueDate.Valid {
		due := r.DueDate.Time
		t.DueDate = &due
	}
	return t, nil
}

// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
func (r *PostgresTaskRepo) FindByID(ctx context.Context, id string) (*model.Task, error) {
	query, args, err := psql.Select(taskColumns...).
		From("tasks").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build task query: %w", err)
	}

	var row taskRow
	err = sqlscan.Get(ctx, r.db, &row, query, args...)
	if sqlscan.NotFound(err) || errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	return row.toModel()
}

// ListByCreator は作成者のタスクを作成日時の降順で返す。
func (r *PostgresTaskRepo) ListByCreator(ctx context.Context, userID string, filter TaskFilter) ([]*model.Task, error) {
	query, args, err := taskListQuery(userID, filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build task list query: %w", err)
	}

	var rows []taskRow
	if err := sqlscan.Select(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	tasks := make([]*model.Task, 0, len(rows))
	for _, row := range rows {
		t, err := row.toModel()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func taskListQuery(userID string, filter TaskFilter) sq.SelectBuilder {
	b := psql.Select(taskColumns...).
		From("tasks").
		Where(sq.Eq{"created_by": userID}).
		OrderBy("created_at DESC", "id")
	if filter.Status != nil {
		b = b.Where(sq.Eq{"status": string(*filter.Status)})
	}
	if filter.MeetingID != nil {
		b = b.Where(sq.Eq{"meeting_id": *filter.MeetingID})
	}
	if filter.Limit > 0 {
		b = b.Limit(filter.Limit)
	}
	return b
}

// Create はタスクを作成する。
func (r *PostgresTaskRepo) Create(ctx context.Context, t *model.Task) error {
	query, args, err := psql.Insert("tasks").
		Columns(taskColumns...).
		Values(
			t.ID, t.MeetingID, t.OrganizationID, t.Title, t.Description, string(t.Status), string(t.Priority),
			t.AssigneeID, t.DueDate, t.CreatedBy, t.CreatedAt, t.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build task insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// UpdateStatus は現在のステータスが from の場合に限り to へ更新する。
func (r *PostgresTaskRepo) UpdateStatus(ctx context.Context, id string, from, to model.TaskStatus) (bool, error) {
	query, args, err := psql.Update("tasks").
		Set("status", string(to)).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id, "status": string(from)}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build task status update: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update task status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// UpdateAssignee は担当者を更新する。nilで担当者を外す。
func (r *PostgresTaskRepo) UpdateAssignee(ctx context.Context, id string, assigneeID *string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET assignee_id = $2, updated_at = now() WHERE id = $1`,
		id, assigneeID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task assignee: %w", err)
	}
	return nil
}

// compile-time interface check
var _ TaskRepository = (*PostgresTaskRepo)(nil)
