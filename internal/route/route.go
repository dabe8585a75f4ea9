// Package route はロールからバックエンドへの純粋な振り分け表を提供する。
//
// ロールは閉じた列挙型としてモデル化し、未知のロールは既定値に
// 落とさず必ずErrUnsupportedRoleとして失敗させる。I/Oを持たない。
package route

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedRole は振り分け先が定義されていないロールを表す。
// 診断用に対象のロール名をメッセージに含めてラップされる。
var ErrUnsupportedRole = errors.New("route: 未対応のロール")

// Role はバックエンド選択に使うロール区分。
type Role string

const (
	// RoleAdmin は管理バックエンドに振り分けられるロール。
	RoleAdmin Role = "admin"
	// RoleEmployee は利用者バックエンドに振り分けられるロール。
	RoleEmployee Role = "employee"
	// RoleManager は利用者バックエンドに振り分けられるロール。
	// employeeと同じ振り分け先・同じパス規約を共有する。
	RoleManager Role = "manager"
)

// ParseRole はロール名文字列をRoleに変換する。大文字小文字は区別しない。
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(s)) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleEmployee:
		return RoleEmployee, nil
	case RoleManager:
		return RoleManager, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedRole, s)
	}
}

// Target はロールに対応する振り分け先。
type Target struct {
	// BaseURL はバックエンドのベースURL（例: "http://admin-backend:9000"）。
	BaseURL string
	// StripPrefix は転送前にリクエストパスから取り除く先頭セグメント
	// （例: "/admin"）。存在しない場合は何も取り除かない。
	StripPrefix string
}

// RewritePath はパスからStripPrefixを一度だけ取り除く。
// 接頭辞を持たないパスはそのまま返すため、冪等に適用できる。
func (t Target) RewritePath(path string) string {
	if t.StripPrefix == "" {
		return path
	}
	if path == t.StripPrefix {
		return "/"
	}
	if rest, found := strings.CutPrefix(path, t.StripPrefix+"/"); found {
		return "/" + rest
	}
	return path
}

// Table はロールから振り分け先への写像。設定から一度だけ構築され、
// 以後読み取り専用で共有される。
type Table struct {
	// AdminBaseURL は管理バックエンドのベースURL。
	AdminBaseURL string
	// UserBaseURL は利用者バックエンドのベースURL。
	UserBaseURL string
}

// Resolve はロール名から振り分け先を決定する。
// admin → 管理バックエンド、employee/manager → 利用者バックエンド。
// それ以外はErrUnsupportedRoleを返す。
func (tb Table) Resolve(role string) (Target, error) {
	parsed, err := ParseRole(role)
	if err != nil {
		return Target{}, err
	}

	switch parsed {
	case RoleAdmin:
		return Target{BaseURL: tb.AdminBaseURL, StripPrefix: "/admin"}, nil
	case RoleEmployee, RoleManager:
		return Target{BaseURL: tb.UserBaseURL, StripPrefix: "/user"}, nil
	default:
		// ParseRoleが列挙を閉じているためここには到達しない。
		return Target{}, fmt.Errorf("%w: %s", ErrUnsupportedRole, role)
	}
}
