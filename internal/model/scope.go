// Package model はドメインモデルを定義する。
package model

import "regexp"

// GuestScope は未ログイン利用者に割り当てる固定スコープ。
const GuestScope = "guest"

// scopePattern はスコープキーとして受け付ける文字列。
// 永続化キーの一部になるため区切り文字や空白は許可しない。
var scopePattern = regexp.MustCompile(`^[A-Za-z0-9._@-]{1,128}$`)

// ValidScope はスコープキーが受け付け可能な形式かを判定する。
func ValidScope(scope string) bool {
	return scopePattern.MatchString(scope)
}
