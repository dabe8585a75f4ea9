package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUserNotFound は該当ユーザーが存在しないことを表す。
	ErrUserNotFound = errors.New("gateway: ユーザーが見つからない")
	// ErrEmailTaken は同じメールアドレスのユーザーが既に存在することを表す。
	ErrEmailTaken = errors.New("gateway: メールアドレスは登録済み")
)

// User は資格情報ストアのユーザーレコード。
type User struct {
	// UserID はユーザーの一意識別子。
	UserID string
	// OrganizationID は所属組織ID。
	OrganizationID string
	// FirstName は名。
	FirstName string
	// LastName は姓。
	LastName string
	// Email はメールアドレス。全ユーザーで一意。
	Email string
	// PasswordHash はbcryptハッシュ済みパスワード。
	PasswordHash string
	// Role はバックエンド振り分けに使うロール名。
	Role string
	// Department は部署。任意。
	Department string
	// Location は勤務地。任意。
	Location string
	// DateOfJoining は入社日。
	DateOfJoining time.Time
}

// userStore はSQLiteを使った資格情報ストア。
// ログイン・サインアップ時のみ使用され、転送経路には乗らない。
type userStore struct {
	db *sql.DB
}

// newUserStore は新しい資格情報ストアを生成する。
func newUserStore(db *sql.DB) *userStore {
	return &userStore{db: db}
}

// CreateUser はユーザーを新規作成する。
// メールアドレスが重複している場合はErrEmailTakenを返す。
func (s *userStore) CreateUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (
			user_id, organization_id, first_name, last_name,
			email, password_hash, role, department, location, date_of_joining
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.UserID, u.OrganizationID, u.FirstName, u.LastName,
		u.Email, u.PasswordHash, u.Role, u.Department, u.Location, u.DateOfJoining,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrEmailTaken
		}
		return fmt.Errorf("ユーザーの作成に失敗: %w", err)
	}
	return nil
}

// GetUserByEmail はメールアドレスでユーザーを検索する。
// 存在しない場合はErrUserNotFoundを返す。
func (s *userStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, organization_id, first_name, last_name,
		       email, password_hash, role, department, location, date_of_joining
		FROM users WHERE email = ?`, email,
	).Scan(
		&u.UserID, &u.OrganizationID, &u.FirstName, &u.LastName,
		&u.Email, &u.PasswordHash, &u.Role, &u.Department, &u.Location, &u.DateOfJoining,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	return u, nil
}
