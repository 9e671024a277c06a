package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/meetsprint/internal/model"
)

const tokenIssuer = "meetsprint"

// ErrInvalidToken はセッションCookieのトークンが不正な場合に返される。
var ErrInvalidToken = errors.New("invalid session token")

// TokenCodec はセッションをHS256署名のJWTに変換する。
// jtiにセッションID、subにユーザーID、expにセッションの有効期限を格納する。
// トークンは改ざん検知用で、失効の判定はセッションストアが行う。
type TokenCodec struct {
	secret []byte
	now    func() time.Time
}

// NewTokenCodec はTokenCodecを生成する。
func NewTokenCodec(secret string) *TokenCodec {
	return &TokenCodec{secret: []byte(secret), now: time.Now}
}

// Encode はセッションを署名済みトークンに変換する。
func (c *TokenCodec) Encode(session *model.Session) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        session.ID,
		Subject:   session.UserID,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(c.now()),
		ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Decode はトークンを検証し、セッションIDとユーザーIDを返す。
// 署名不正、期限切れ、発行者不一致はErrInvalidTokenを返す。
func (c *TokenCodec) Decode(token string) (sessionID, userID string, err error) {
	if token == "" {
		return "", "", ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return c.secret, nil
		},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid || claims.ID == "" || claims.Subject == "" {
		return "", "", ErrInvalidToken
	}
	return claims.ID, claims.Subject, nil
}
