// Package models defines the records owned by the credential repository and
// the log store.
package models

// User is an enrolled account. IDs are opaque, never reused and must not
// contain '.', which separates fields in session tokens.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	CreatedAt int64  `json:"createdAt"`
}
