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

var meetingColumns = []string{
	"id", "user_id", "organization_id", "title", "description", "date",
	"duration_minutes", "video_url", "transcription", "status", "created_at", "updated_at",
}

// PostgresMeetingRepo はPostgreSQLを使用した会議リポジトリ。
type PostgresMeetingRepo struct {
	db *sql.DB
}

// NewPostgresMeetingRepo はPostgresMeetingRepoを生成する。
func NewPostgresMeetingRepo(db *sql.DB) *PostgresMeetingRepo {
	return &PostgresMeetingRepo{db: db}
}

type meetingRow struct {
	ID              string         `db:"id"`
	UserID          string         `db:"user_id"`
	OrganizationID  sql.NullString `db:"organization_id"`
	Title           string         `db:"title"`
	Description     string         `db:"description"`
	Date            time.Time      `db:"date"`
	DurationMinutes sql.NullInt64  `db:"duration_minutes"`
	VideoURL        sql.NullString `db:"video_url"`
	Transcription   sql.NullString `db:"transcription"`
	Status          string         `db:"status"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r meetingRow) toModel() (*model.Meeting, error) {
	status, err := model.ParseMeetingStatus(r.Status)
	if err != nil {
		return nil, fmt.Errorf("invalid meeting row %s: %w", r.ID, err)
	}

	m := &model.Meeting{
		ID:             r.ID,
		UserID:         r.UserID,
		OrganizationID: nullStringPtr(r.OrganizationID),
		Title:          r.Title,
		Description:    r.Description,
		Date:           r.Date,
		VideoURL:       nullStringPtr(r.VideoURL),
		Transcription:  nullStringPtr(r.Transcription),
		Status:         status,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.DurationMinutes.Valid {
		d := int(r.DurationMinutes.Int64)
		m.DurationMinutes = &d
	}
	return m, nil
}

// FindByID は指定IDの会議を取得する。見つからない場合はnilを返す。
func (r *PostgresMeetingRepo) FindByID(ctx context.Context, id string) (*model.Meeting, error) {
	query, args, err := psql.Select(meetingColumns...).
		From("meetings").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build meeting query: %w", err)
	}

	var row meetingRow
	err = sqlscan.Get(ctx, r.db, &row, query, args...)
	if sqlscan.NotFound(err) || errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find meeting: %w", err)
	}
	return row.toModel()
}

// ListByUserID はユーザーの会議を開催日時の降順で返す。
func (r *PostgresMeetingRepo) ListByUserID(ctx context.Context, userID string, filter MeetingFilter) ([]*model.Meeting, error) {
	query, args, err := meetingListQuery(userID, filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build meeting list query: %w", err)
	}

	var rows []meetingRow
	if err := sqlscan.Select(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list meetings: %w", err)
	}

	meetings := make([]*model.Meeting, 0, len(rows))
	for _, row := range rows {
		m, err := row.toModel()
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, m)
	}
	return meetings, nil
}

func meetingListQuery(userID string, filter MeetingFilter) sq.SelectBuilder {
	b := psql.Select(meetingColumns...).
		From("meetings").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("date DESC", "id")
	if filter.Status != nil {
		b = b.Where(sq.Eq{"status": string(*filter.Status)})
	}
	if filter.Limit > 0 {
		b = b.Limit(filter.Limit)
	}
	return b
}

// Create は会議を作成する。
func (r *PostgresMeetingRepo) Create(ctx context.Context, m *model.Meeting) error {
	query, args, err := psql.Insert("meetings").
		Columns(meetingColumns...).
		Values(
			m.ID, m.UserID, m.OrganizationID, m.Title, m.Description, m.Date,
			m.DurationMinutes, m.VideoURL, m.Transcription, string(m.Status), m.CreatedAt, m.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build meeting insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create meeting: %w", err)
	}
	return nil
}

// UpdateStatus は現在のステータスが from の場合に限り to へ更新する。
func (r *PostgresMeetingRepo) UpdateStatus(ctx context.Context, id string, from, to model.MeetingStatus) (bool, error) {
	query, args, err := psql.Update("meetings").
		Set("status", string(to)).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id, "status": string(from)}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build meeting status update: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update meeting status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// UpdateTranscription は文字起こしを更新する。
func (r *PostgresMeetingRepo) UpdateTranscription(ctx context.Context, id, transcription string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE meetings SET transcription = $2, updated_at = now() WHERE id = $1`,
		id, transcription,
	)
	if err != nil {
		return fmt.Errorf("failed to update transcription: %w", err)
	}
	return nil
}

// compile-time interface check
var _ MeetingRepository = (*PostgresMeetingRepo)(nil)
