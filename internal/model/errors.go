// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, meeting, task, organization, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeMissingCode         = "MISSING_CODE"
	ErrCodeInvalidOrgName      = "INVALID_ORGANIZATION_NAME"
	ErrCodeAlreadyOnboarded    = "ALREADY_ONBOARDED"
	ErrCodeNoOrganization      = "NO_ORGANIZATION"
	ErrCodeMeetingNotFound     = "MEETING_NOT_FOUND"
	ErrCodeTaskNotFound        = "TASK_NOT_FOUND"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeInvalidTitle        = "INVALID_TITLE"
	ErrCodeInvalidStatus       = "INVALID_STATUS"
	ErrCodeInvalidPriority     = "INVALID_PRIORITY"
	ErrCodeInvalidURL          = "INVALID_URL"
	ErrCodeSSRFBlocked         = "SSRF_BLOCKED"
	ErrCodeFetchFailed         = "FETCH_FAILED"
	ErrCodeInvalidAssignee     = "INVALID_ASSIGNEE"
	ErrCodeUnsupportedProvider = "UNSUPPORTED_PROVIDER"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidRequestError はリクエストボディが不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewMissingCodeError は認可コードが指定されていない場合のエラーを生成する。
func NewMissingCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingCode,
		Message:  "認可コードが指定されていません。",
		Category: "auth",
		Action:   "もう一度ログインをやり直してください。",
	}
}

// NewUnsupportedProviderError は未対応のOAuthプロバイダーが指定された場合のエラーを生成する。
func NewUnsupportedProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedProvider,
		Message:  fmt.Sprintf("未対応の認証プロバイダーです: %s", provider),
		Category: "auth",
		Action:   "Googleアカウントでログインしてください。",
	}
}

// NewInvalidOrganizationNameError は組織名が不正な場合のエラーを生成する。
func NewInvalidOrganizationNameError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOrgName,
		Message:  fmt.Sprintf("組織名が不正です: %s", reason),
		Category: "validation",
		Action:   "1文字以上100文字以内の組織名を入力してください。",
	}
}

// NewAlreadyOnboardedError は既に組織に所属しているユーザーが組織を作成しようとした場合のエラーを生成する。
func NewAlreadyOnboardedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyOnboarded,
		Message:  "既に組織に所属しています。",
		Category: "organization",
		Action:   "ダッシュボードへ移動してください。",
	}
}

// NewNoOrganizationError は組織未所属のユーザーが組織を必要とする操作を行った場合のエラーを生成する。
func NewNoOrganizationError() *APIError {
	return &APIError{
		Code:     ErrCodeNoOrganization,
		Message:  "組織に所属していません。",
		Category: "organization",
		Action:   "オンボーディングで組織を作成してください。",
	}
}

// NewMeetingNotFoundError は会議が見つからない場合のエラーを生成する。
func NewMeetingNotFoundError(meetingID string) *APIError {
	return &APIError{
		Code:     ErrCodeMeetingNotFound,
		Message:  fmt.Sprintf("指定された会議が見つかりません: %s", meetingID),
		Category: "meeting",
		Action:   "会議IDを確認してください。",
	}
}

// NewTaskNotFoundError はタスクが見つからない場合のエラーを生成する。
func NewTaskNotFoundError(taskID string) *APIError {
	return &APIError{
		Code:     ErrCodeTaskNotFound,
		Message:  fmt.Sprintf("指定されたタスクが見つかりません: %s", taskID),
		Category: "task",
		Action:   "タスクIDを確認してください。",
	}
}

// NewInvalidTransitionError は許可されていない状態遷移のエラーを生成する。
func NewInvalidTransitionError(from, to string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTransition,
		Message:  fmt.Sprintf("%s から %s へは変更できません。", from, to),
		Category: "validation",
		Action:   "現在のステータスを確認してください。",
	}
}

// NewInvalidTitleError はタイトルが空の場合のエラーを生成する。
func NewInvalidTitleError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTitle,
		Message:  "タイトルを入力してください。",
		Category: "validation",
		Action:   "1文字以上200文字以内のタイトルを入力してください。",
	}
}

// NewInvalidStatusError は未知のステータス値のエラーを生成する。
func NewInvalidStatusError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStatus,
		Message:  fmt.Sprintf("無効なステータスです: %s", status),
		Category: "validation",
		Action:   "有効なステータスを指定してください。",
	}
}

// NewInvalidPriorityError は未知の優先度のエラーを生成する。
func NewInvalidPriorityError(priority string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPriority,
		Message:  fmt.Sprintf("無効な優先度です: %s", priority),
		Category: "validation",
		Action:   "優先度には low、medium、high のいずれかを指定してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているURLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewFetchFailedError は文字起こしの取得失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("文字起こしの取得に失敗しました: %s", reason),
		Category: "meeting",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewInvalidAssigneeError は担当者が同じ組織に所属していない場合のエラーを生成する。
func NewInvalidAssigneeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAssignee,
		Message:  "指定された担当者はこの組織に所属していません。",
		Category: "task",
		Action:   "同じ組織のメンバーを指定してください。",
	}
}
