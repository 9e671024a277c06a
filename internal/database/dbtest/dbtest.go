// Package dbtest はリポジトリの結合テスト用にマイグレーション済みのPostgreSQLを用意する。
//
// TEST_DATABASE_URL が設定されていればそれを使い、未設定ならtestcontainersで
// PostgreSQLコンテナを1つだけ起動して全テストで共有する。
// -short 指定時やDockerが利用できない環境ではテストをスキップする。
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hitoshi/meetsprint/internal/database"
)

var (
	once      sync.Once
	sharedURL string
	initErr   error
)

// Open はマイグレーション適用済みのDBに接続し、テスト終了時に閉じる。
// 各テストの前に全テーブルのデータを削除する。
func Open(t *testing.T) (*sql.DB, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("結合テストは -short 指定時はスキップする")
	}

	once.Do(func() {
		sharedURL, initErr = prepare()
	})
	if initErr != nil {
		t.Skipf("テスト用データベースを用意できません（スキップ）: %v", initErr)
	}

	db, err := database.Open(sharedURL, database.PoolConfig{MaxOpenConns: 10})
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	truncate(t, db)
	return db, sharedURL
}

func prepare() (string, error) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		var err error
		url, err = startContainer()
		if err != nil {
			return "", err
		}
	}

	if err := database.RunMigrations(url); err != nil {
		return "", fmt.Errorf("apply migrations: %w", err)
	}
	return url, nil
}

func startContainer() (url string, err error) {
	// Dockerが無い環境ではtestcontainersがpanicすることがあるため、エラーに変換する
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("docker is not available: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "meetsprint",
			"POSTGRES_PASSWORD": "meetsprint",
			"POSTGRES_DB":       "meetsprint_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return "", fmt.Errorf("get mapped port: %w", err)
	}

	return fmt.Sprintf("postgres://meetsprint:meetsprint@%s:%s/meetsprint_test?sslmode=disable", host, port.Port()), nil
}

func truncate(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`TRUNCATE tasks, meetings, profiles, organizations, sessions, identities, users CASCADE`)
	if err != nil {
		t.Fatalf("テーブルの初期化に失敗: %v", err)
	}
}

// InsertUser はテスト用のユーザーを作成してIDを返す。
func InsertUser(t *testing.T, db *sql.DB, id, email string) string {
	t.Helper()
	_, err := db.Exec(`INSERT INTO users (id, email, name) VALUES ($1, $2, $3)`, id, email, "Test User")
	if err != nil {
		t.Fatalf("テストユーザーの作成に失敗: %v", err)
	}
	return id
}
