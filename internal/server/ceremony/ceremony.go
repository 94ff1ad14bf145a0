// Package ceremony wraps the WebAuthn ceremony engine behind a small,
// stateless interface: the challenge travels in a cookie, so every verify
// call rebuilds what the engine needs from the raw challenge.
package ceremony

import (
	"encoding/json"

	"github.com/dmitrijs2005/passkeygate/internal/server/models"
)

// Options is the JSON handed to the browser plus the challenge to remember.
type Options struct {
	JSON      json.RawMessage
	Challenge string
}

// Descriptor names an existing credential for allow or exclude lists.
type Descriptor struct {
	ID         string
	Transports []string
}

type RegistrationRequest struct {
	RPID                 string
	RPName               string
	Origin               string
	UserName             string
	DisplayName          string
	UserHandle           string
	ExcludeCredentialIDs []Descriptor
}

type AuthenticationRequest struct {
	RPID             string
	RPName           string
	Origin           string
	AllowCredentials []Descriptor
}

// RegistrationResult describes a newly created credential. CredentialID is
// unpadded base64url.
type RegistrationResult struct {
	Verified     bool
	CredentialID string
	PublicKey    []byte
	Counter      uint32
	DeviceType   string
	BackedUp     bool
	Transports   []string
}

type AuthenticationResult struct {
	Verified   bool
	NewCounter uint32
}

// Ceremony generates options and verifies authenticator responses.
// Verification failures wrap common.ErrVerificationFailed.
type Ceremony interface {
	RegistrationOptions(req RegistrationRequest) (*Options, error)
	AuthenticationOptions(req AuthenticationRequest) (*Options, error)
	VerifyRegistration(response []byte, expectedChallenge, origin, rpID, userHandle string) (*RegistrationResult, error)
	VerifyAuthentication(response []byte, expectedChallenge, origin, rpID string, stored models.Credential) (*AuthenticationResult, error)
	// ParseCredentialID returns the credential id an assertion was made with.
	ParseCredentialID(response []byte) (string, error)
}
