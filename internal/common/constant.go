package common

// Cookie names shared by the HTTP layer and the session codec.
const (
	SessionCookieName   = "session"
	ChallengeCookieName = "webauthn_challenge"
	UserIDCookieName    = "webauthn_user_id"
)

// Bearer prefix expected on the log ingest Authorization header.
const BearerPrefix = "Bearer "
