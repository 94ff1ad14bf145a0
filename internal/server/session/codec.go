// Package session issues and verifies the stateless session token carried in
// the session cookie.
//
// A token has the form userId.expiresAt.signature, where expiresAt is epoch
// seconds and signature is the unpadded base64url HMAC-SHA256 of
// "userId.expiresAt" under the server secret. User ids must not contain '.';
// Issue enforces that, Validate splits on the last '.' for the signature and
// on the first '.' inside the signed payload.
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/passkeygate/internal/common"
)

const separator = "."

// Codec signs and verifies session tokens with a single secret.
type Codec struct {
	secret []byte
	ttl    time.Duration
	secure bool
}

// NewCodec returns a codec for secret. secure controls the Secure attribute
// of the cookies it writes.
func NewCodec(secret string, ttl time.Duration, secure bool) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("session secret must not be empty")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	return &Codec{secret: []byte(secret), ttl: ttl, secure: secure}, nil
}

// TTL returns the lifetime of issued tokens.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue returns a token for userID that expires TTL after now.
func (c *Codec) Issue(userID string, now time.Time) (string, error) {
	if userID == "" || strings.Contains(userID, separator) {
		return "", fmt.Errorf("%w: user id must be non-empty and must not contain %q", common.ErrorValidation, separator)
	}

	expiresAt := now.Add(c.ttl).Unix()
	payload := userID + separator + strconv.FormatInt(expiresAt, 10)

	return payload + separator + c.sign(payload), nil
}

// Validate returns the user id carried by token. Any structural defect or
// signature mismatch yields common.ErrInvalidToken; a token whose expiry is
// not after now yields common.ErrTokenExpired. Never panics.
func (c *Codec) Validate(token string, now time.Time) (string, error) {
	i := strings.LastIndex(token, separator)
	if i <= 0 || i == len(token)-1 {
		return "", common.ErrInvalidToken
	}
	payload, signature := token[:i], token[i+1:]

	if !hmac.Equal([]byte(signature), []byte(c.sign(payload))) {
		return "", common.ErrInvalidToken
	}

	userID, rawExpiry, ok := strings.Cut(payload, separator)
	if !ok || userID == "" || rawExpiry == "" {
		return "", common.ErrInvalidToken
	}

	expiresAt, err := strconv.ParseInt(rawExpiry, 10, 64)
	if err != nil || expiresAt <= 0 {
		return "", common.ErrInvalidToken
	}

	if now.Unix() >= expiresAt {
		return "", common.ErrTokenExpired
	}

	return userID, nil
}

func (c *Codec) sign(payload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
