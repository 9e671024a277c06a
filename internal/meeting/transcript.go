package meeting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/meetsprint/internal/security"
)

const (
	// DefaultFetchTimeout は文字起こし取得のデフォルトタイムアウト。
	DefaultFetchTimeout = 10 * time.Second
	// DefaultMaxTranscriptSize は取得する文字起こしの最大バイト数（2MiB）。
	DefaultMaxTranscriptSize int64 = 2 << 20
)

// errTooLarge は取得した本文が上限を超えた場合に返される。
var errTooLarge = errors.New("transcript exceeds size limit")

// TranscriptFetcher は外部URLから文字起こしテキストを取得する。
type TranscriptFetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// HTTPTranscriptFetcher はSSRF対策済みのHTTPクライアントで文字起こしを取得する。
type HTTPTranscriptFetcher struct {
	client  *http.Client
	maxSize int64
}

// NewHTTPTranscriptFetcher はHTTPTranscriptFetcherを生成する。
// clientにはsecurity.URLGuard.NewSafeClientで生成したクライアントを渡す。
func NewHTTPTranscriptFetcher(client *http.Client, maxSize int64) *HTTPTranscriptFetcher {
	if maxSize <= 0 {
		maxSize = DefaultMaxTranscriptSize
	}
	return &HTTPTranscriptFetcher{client: client, maxSize: maxSize}
}

// NewSafeTranscriptFetcher はguardのクライアントを使うHTTPTranscriptFetcherを生成する。
func NewSafeTranscriptFetcher(guard security.URLGuard, timeout time.Duration, maxSize int64) *HTTPTranscriptFetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return NewHTTPTranscriptFetcher(guard.NewSafeClient(timeout), maxSize)
}

// Fetch はURLの本文を取得する。200以外のステータスと上限超過はエラーとする。
func (f *HTTPTranscriptFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "MeetSprint/1.0 Transcript Import")
	req.Header.Set("Accept", "text/plain, text/vtt, text/html;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch transcript: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("transcript source returned non-200",
			slog.String("url", rawURL),
			slog.Int("http_status", resp.StatusCode),
		)
		return "", fmt.Errorf("transcript source returned status %d", resp.StatusCode)
	}
	if resp.ContentLength > f.maxSize {
		return "", errTooLarge
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read transcript body: %w", err)
	}
	if int64(len(body)) > f.maxSize {
		return "", errTooLarge
	}
	return string(body), nil
}
