// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

var (
	// ErrInvalidURL はURLの形式が不正な場合に返される。
	ErrInvalidURL = errors.New("invalid url")
	// ErrBlockedURL は内部ネットワークなど、アクセスを許可しない宛先の場合に返される。
	ErrBlockedURL = errors.New("blocked url")
)

// URLGuard は外部URLへのアクセスを内部ネットワークから隔離する。
// 文字起こしのインポートと会議の動画URLの検証で使用する。
type URLGuard interface {
	// NewSafeClient はプライベートIPやメタデータIPへの接続を拒否するHTTPクライアントを返す。
	// 接続先の検証はDNS解決後に行われるため、DNS再バインディングにも対応する。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL はDNS解決を行わずにURLを検証する。
	// 形式の誤りは ErrInvalidURL、禁止された宛先は ErrBlockedURL をラップして返す。
	ValidateURL(rawURL string) error
}

var allowedSchemes = []string{"http", "https"}

// blockedNetworks は静的検証で拒否するアドレス範囲。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	// クラウドのメタデータIP (169.254.169.254) を含む
	"169.254.0.0/16",
	"0.0.0.0/8",
	"100.64.0.0/10",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

var blockedHostnames = map[string]struct{}{
	"localhost":                {},
	"metadata.google.internal": {},
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %s: %v", cidr, err))
		}
		networks = append(networks, network)
	}
	return networks
}

type ssrfGuard struct{}

// NewSSRFGuard はURLGuardを生成する。
func NewSSRFGuard() URLGuard {
	return ssrfGuard{}
}

func (ssrfGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

func (ssrfGuard) ValidateURL(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return fmt.Errorf("%w: empty", ErrInvalidURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: scheme %q is not allowed", ErrInvalidURL, parsed.Scheme)
	}
	if parsed.User != nil {
		return fmt.Errorf("%w: credentials in url", ErrBlockedURL)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("%w: address %s", ErrBlockedURL, ip)
			}
		}
		return nil
	}

	lower := strings.TrimSuffix(strings.ToLower(host), ".")
	if _, ok := blockedHostnames[lower]; ok || strings.HasSuffix(lower, ".localhost") {
		return fmt.Errorf("%w: host %s", ErrBlockedURL, host)
	}
	return nil
}
