package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"

	"github.com/hitoshi/meetsprint/internal/model"
)

const profileColumns = `id, email, full_name, avatar_url, role, organization_id, created_at, updated_at`

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

type profileRow struct {
	ID             string         `db:"id"`
	Email          string         `db:"email"`
	FullName       string         `db:"full_name"`
	AvatarURL      string         `db:"avatar_url"`
	Role           string         `db:"role"`
	OrganizationID sql.NullString `db:"organization_id"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// toModel は行をドメインモデルに変換する。未知のroleはエラーにする。
func (r profileRow) toModel() (*model.Profile, error) {
	role, err := model.ParseRole(r.Role)
	if err != nil {
		return nil, fmt.Errorf("invalid profile row %s: %w", r.ID, err)
	}
	return &model.Profile{
		ID:             r.ID,
		Email:          r.Email,
		FullName:       r.FullName,
		AvatarURL:      r.AvatarURL,
		Role:           role,
		OrganizationID: nullStringPtr(r.OrganizationID),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	var row profileRow
	err := sqlscan.Get(ctx, r.db, &row,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
	if sqlscan.NotFound(err) || errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	return row.toModel()
}

// Upsert はプロフィールを作成し、永続化された行を返す。
// 同じIDの行が既にある場合は既存の行をそのまま返す（上書きしない）。
// DO UPDATE で同じidを書き戻すのは、RETURNINGで既存行を受け取るため。
func (r *PostgresProfileRepo) Upsert(ctx context.Context, profile *model.Profile) (*model.Profile, error) {
	var row profileRow
	err := sqlscan.Get(ctx, r.db, &row,
		`INSERT INTO profiles (id, email, full_name, avatar_url, role, organization_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		 RETURNING `+profileColumns,
		profile.ID, profile.Email, profile.FullName, profile.AvatarURL,
		string(profile.Role), profile.OrganizationID, profile.CreatedAt, profile.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert profile: %w", err)
	}
	return row.toModel()
}

// ListByOrganization は組織に所属するプロフィールを氏名順で返す。
func (r *PostgresProfileRepo) ListByOrganization(ctx context.Context, organizationID string) ([]*model.Profile, error) {
	var rows []profileRow
	err := sqlscan.Select(ctx, r.db, &rows,
		`SELECT `+profileColumns+` FROM profiles WHERE organization_id = $1 ORDER BY full_name, id`,
		organizationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list organization profiles: %w", err)
	}

	profiles := make([]*model.Profile, 0, len(rows))
	for _, row := range rows {
		p, err := row.toModel()
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
