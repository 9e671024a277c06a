package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は外部から取り込んだテキストからマークアップを取り除く。
type TextSanitizer interface {
	// Sanitize はすべてのタグを除去したプレーンテキストを返す。
	// 改行コードはLFに揃え、前後の空白を取り除く。同じ入力には常に同じ結果を返す。
	Sanitize(raw string) string
}

// maxSanitizePasses はエンティティの復元とタグ除去を繰り返す上限。
const maxSanitizePasses = 4

type transcriptSanitizer struct {
	policy *bluemonday.Policy
}

// NewTranscriptSanitizer は文字起こし用のTextSanitizerを生成する。
// bluemondayのStrictPolicyでscript・style要素ごと除去する。
func NewTranscriptSanitizer() TextSanitizer {
	return &transcriptSanitizer{policy: bluemonday.StrictPolicy()}
}

func (s *transcriptSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	// StrictPolicyは残ったテキストをHTMLエスケープするため保存前に戻す。
	// 戻した結果がタグになる場合があるので、変化しなくなるまで除去し直す。
	text := normalized
	for range maxSanitizePasses {
		next := html.UnescapeString(s.policy.Sanitize(text))
		if next == text {
			return strings.TrimSpace(text)
		}
		text = next
	}
	// 収束しない多重エンコードはエスケープしたまま返す
	return strings.TrimSpace(s.policy.Sanitize(text))
}
