package model

import (
	"fmt"
	"time"
)

// Role は組織内でのプロフィールの権限。
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// ParseRole は文字列をRoleに変換する。未知の値はエラーとする。
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleMember:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role: %q", s)
	}
}

// Profile はアプリケーション側のユーザー情報。
// Userと1対1で、IDはUserのIDと同じ値を使う。
type Profile struct {
	ID             string
	Email          string
	FullName       string
	AvatarURL      string
	Role           Role
	OrganizationID *string
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// Transient は永続化に失敗したためメモリ上にだけ存在するプロフィールであることを示す。
	Transient bool
}

// HasOrganization は組織に所属済みかどうかを返す。
func (p *Profile) HasOrganization() bool {
	return p != nil && p.OrganizationID != nil && *p.OrganizationID != ""
}

// NewDefaultProfile はユーザー情報から初期プロフィールを組み立てる。
func NewDefaultProfile(user *User, now time.Time) *Profile {
	return &Profile{
		ID:        user.ID,
		Email:     user.Email,
		FullName:  user.Name,
		AvatarURL: user.AvatarURL,
		Role:      RoleMember,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Organization はユーザーが所属する組織。
type Organization struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}
