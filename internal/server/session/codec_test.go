package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/passkeygate/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec("test-secret", 7*24*time.Hour, true)
	require.NoError(t, err)
	return c
}

func TestNewCodec_Rejects(t *testing.T) {
	_, err := NewCodec("", time.Hour, false)
	require.Error(t, err)
	_, err = NewCodec("s", 0, false)
	require.Error(t, err)
}

func TestIssueValidate_RoundTrip(t *testing.T) {
	t.Parallel()
	c := newCodec(t)

	tok, err := c.Issue("0f3a9c", t0)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(tok, "."))

	for _, at := range []time.Time{t0, t0.Add(time.Hour), t0.Add(c.TTL() - time.Millisecond)} {
		got, err := c.Validate(tok, at)
		require.NoError(t, err, "at %v", at)
		assert.Equal(t, "0f3a9c", got)
	}
}

func TestIssue_ExpiryInEpochSeconds(t *testing.T) {
	t.Parallel()
	c := newCodec(t)
	now := time.Unix(1_700_000_000, 0)

	tok, err := c.Issue("u1", now)
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)
	assert.Equal(t, strconv.FormatInt(now.Add(c.TTL()).Unix(), 10), parts[1])
	assert.Equal(t, "1700604800", parts[1])
}

func TestValidate_ExpiryBoundary(t *testing.T) {
	t.Parallel()
	c := newCodec(t)

	tok, err := c.Issue("u1", t0)
	require.NoError(t, err)

	for _, at := range []time.Time{t0.Add(c.TTL()), t0.Add(c.TTL() + time.Second), t0.Add(30 * 24 * time.Hour)} {
		_, err := c.Validate(tok, at)
		assert.ErrorIs(t, err, common.ErrTokenExpired, "at %v", at)
	}
}

func TestValidate_SingleCharacterTamper(t *testing.T) {
	t.Parallel()
	c := newCodec(t)

	tok, err := c.Issue("user42", t0)
	require.NoError(t, err)

	for i := range tok {
		b := []byte(tok)
		if b[i] == 'A' {
			b[i] = 'B'
		} else {
			b[i] = 'A'
		}
		_, err := c.Validate(string(b), t0)
		if err == nil {
			t.Fatalf("tampered token at position %d accepted: %q", i, b)
		}
	}
}

func TestValidate_WrongSecret(t *testing.T) {
	t.Parallel()
	c := newCodec(t)
	other, err := NewCodec("other-secret", time.Hour, false)
	require.NoError(t, err)

	tok, err := other.Issue("u1", t0)
	require.NoError(t, err)

	_, err = c.Validate(tok, t0)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestValidate_Malformed(t *testing.T) {
	t.Parallel()
	c := newCodec(t)

	forge := func(payload string) string { return payload + "." + c.sign(payload) }

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"no separator", "abcdef"},
		{"trailing separator", "u1.123."},
		{"leading separator", ".sig"},
		{"only dots", "..."},
		{"signed payload without expiry", forge("u1")},
		{"signed payload with empty user", forge(".12345")},
		{"signed non-numeric expiry", forge("u1.tomorrow")},
		{"signed negative expiry", forge("u1.-5")},
		{"unicode garbage", "ü.ñ.☃"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotPanics(t, func() {
				_, err := c.Validate(tt.token, t0)
				assert.ErrorIs(t, err, common.ErrInvalidToken)
			})
		})
	}
}

func TestIssue_RejectsSeparatorInUserID(t *testing.T) {
	c := newCodec(t)

	_, err := c.Issue("a.b", t0)
	assert.True(t, errors.Is(err, common.ErrorValidation))

	_, err = c.Issue("", t0)
	assert.True(t, errors.Is(err, common.ErrorValidation))
}

func TestCookies(t *testing.T) {
	c := newCodec(t)
	tok, err := c.Issue("u1", t0)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	c.SetCookie(rec, tok)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	ck := cookies[0]
	assert.Equal(t, common.SessionCookieName, ck.Name)
	assert.Equal(t, tok, ck.Value)
	assert.True(t, ck.HttpOnly)
	assert.True(t, ck.Secure)
	assert.Equal(t, http.SameSiteStrictMode, ck.SameSite)
	assert.Equal(t, "/", ck.Path)
	assert.Equal(t, 7*24*60*60, ck.MaxAge)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(ck)
	got, err := c.FromRequest(req, t0)
	require.NoError(t, err)
	assert.Equal(t, "u1", got)

	rec = httptest.NewRecorder()
	c.ClearCookie(rec)
	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, "", cleared[0].Value)
	assert.True(t, cleared[0].MaxAge < 0)
}

func TestFromRequest_NoCookie(t *testing.T) {
	c := newCodec(t)
	_, err := c.FromRequest(httptest.NewRequest(http.MethodGet, "/", nil), t0)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestShortLivedCookie(t *testing.T) {
	c, err := NewCodec("s", time.Hour, false)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	c.SetShortLived(rec, common.ChallengeCookieName, "chal", 5*time.Minute)
	ck := rec.Result().Cookies()[0]
	assert.Equal(t, 300, ck.MaxAge)
	assert.False(t, ck.Secure)
	assert.True(t, ck.HttpOnly)
}
