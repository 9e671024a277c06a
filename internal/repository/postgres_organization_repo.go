package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/meetsprint/internal/model"
)

// PostgresOrganizationRepo はPostgreSQLを使用した組織リポジトリ。
type PostgresOrganizationRepo struct {
	db *sql.DB
}

// NewPostgresOrganizationRepo はPostgresOrganizationRepoを生成する。
func NewPostgresOrganizationRepo(db *sql.DB) *PostgresOrganizationRepo {
	return &PostgresOrganizationRepo{db: db}
}

// FindByID は指定IDの組織を取得する。見つからない場合はnilを返す。
func (r *PostgresOrganizationRepo) FindByID(ctx context.Context, id string) (*model.Organization, error) {
	org := &model.Organization{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, created_at, updated_at FROM organizations WHERE id = $1`,
		id,
	).Scan(&org.ID, &org.Name, &org.OwnerID, &org.CreatedAt, &org.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find organization: %w", err)
	}
	return org, nil
}

// CreateForOwner は組織を作成し、オーナーのプロフィールを admin として紐付ける。
// プロフィール行を FOR UPDATE でロックしてから所属有無を確認するため、
// 同じユーザーの同時リクエストでも組織は1つしか作られない。
func (r *PostgresOrganizationRepo) CreateForOwner(ctx context.Context, org *model.Organization) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT organization_id FROM profiles WHERE id = $1 FOR UPDATE`,
		org.OwnerID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrProfileNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock owner profile: %w", err)
	}
	if current.Valid {
		return ErrAlreadyOnboarded
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO organizations (id, name, owner_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		org.ID, org.Name, org.OwnerID, org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert organization: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE profiles SET organization_id = $2, role = $3, updated_at = $4 WHERE id = $1`,
		org.OwnerID, org.ID, string(model.RoleAdmin), org.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to attach owner profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// compile-time interface check
var _ OrganizationRepository = (*PostgresOrganizationRepo)(nil)
