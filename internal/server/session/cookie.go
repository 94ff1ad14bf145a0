package session

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/passkeygate/internal/common"
)

// SetCookie writes token into the session cookie.
func (c *Codec) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, c.cookie(common.SessionCookieName, token, c.ttl))
}

// ClearCookie expires the session cookie.
func (c *Codec) ClearCookie(w http.ResponseWriter) {
	c.ClearNamed(w, common.SessionCookieName)
}

// FromRequest validates the session cookie of r, if any.
func (c *Codec) FromRequest(r *http.Request, now time.Time) (string, error) {
	ck, err := r.Cookie(common.SessionCookieName)
	if err != nil || ck.Value == "" {
		return "", common.ErrInvalidToken
	}
	return c.Validate(ck.Value, now)
}

// SetShortLived writes a ceremony cookie (challenge, pending user id) that
// lives for ttl.
func (c *Codec) SetShortLived(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, c.cookie(name, value, ttl))
}

// ClearNamed expires the cookie called name.
func (c *Codec) ClearNamed(w http.ResponseWriter, name string) {
	ck := c.cookie(name, "", 0)
	ck.MaxAge = -1
	ck.Expires = time.Unix(0, 0)
	http.SetCookie(w, ck)
}

func (c *Codec) cookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	}
}
