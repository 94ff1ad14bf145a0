package ceremony

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/passkeygate/internal/common"
	"github.com/dmitrijs2005/passkeygate/internal/server/models"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// WebAuthnCeremony implements Ceremony with go-webauthn. The relying party
// is derived from each request, so one engine is built per call.
type WebAuthnCeremony struct{}

var _ Ceremony = WebAuthnCeremony{}

func NewWebAuthnCeremony() WebAuthnCeremony {
	return WebAuthnCeremony{}
}

func newEngine(rpID, rpName, origin string) (*webauthn.WebAuthn, error) {
	if rpName == "" {
		rpName = rpID
	}
	return webauthn.New(&webauthn.Config{
		RPID:                  rpID,
		RPDisplayName:         rpName,
		RPOrigins:             []string{origin},
		AttestationPreference: protocol.PreferNoAttestation,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: protocol.VerificationPreferred,
		},
	})
}

// passkeyUser adapts a user handle and its stored credentials to the
// engine's user interface.
type passkeyUser struct {
	handle      []byte
	name        string
	displayName string
	credentials []webauthn.Credential
}

func (u *passkeyUser) WebAuthnID() []byte                         { return u.handle }
func (u *passkeyUser) WebAuthnName() string                       { return u.name }
func (u *passkeyUser) WebAuthnDisplayName() string                { return u.displayName }
func (u *passkeyUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

func (c WebAuthnCeremony) RegistrationOptions(req RegistrationRequest) (*Options, error) {
	engine, err := newEngine(req.RPID, req.RPName, req.Origin)
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}

	exclusions, err := descriptors(req.ExcludeCredentialIDs)
	if err != nil {
		return nil, err
	}

	user := &passkeyUser{
		handle:      []byte(req.UserHandle),
		name:        req.UserName,
		displayName: req.DisplayName,
	}

	var opts []webauthn.RegistrationOption
	if len(exclusions) > 0 {
		opts = append(opts, webauthn.WithExclusions(exclusions))
	}

	creation, session, err := engine.BeginRegistration(user, opts...)
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", err)
	}

	return encodeOptions(creation.Response, session.Challenge)
}

func (c WebAuthnCeremony) AuthenticationOptions(req AuthenticationRequest) (*Options, error) {
	engine, err := newEngine(req.RPID, req.RPName, req.Origin)
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}

	allowed, err := descriptors(req.AllowCredentials)
	if err != nil {
		return nil, err
	}

	assertion, session, err := engine.BeginDiscoverableLogin(webauthn.WithAllowedCredentials(allowed))
	if err != nil {
		return nil, fmt.Errorf("begin login: %w", err)
	}

	return encodeOptions(assertion.Response, session.Challenge)
}

func (c WebAuthnCeremony) VerifyRegistration(response []byte, expectedChallenge, origin, rpID, userHandle string) (*RegistrationResult, error) {
	engine, err := newEngine(rpID, "", origin)
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}

	parsed, err := protocol.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return nil, verificationError("parse registration response", err)
	}

	user := &passkeyUser{handle: []byte(userHandle)}
	session := webauthn.SessionData{
		Challenge:        expectedChallenge,
		RelyingPartyID:   rpID,
		UserID:           []byte(userHandle),
		UserVerification: protocol.VerificationPreferred,
		CredParams:       webauthn.CredentialParametersDefault(),
	}

	cred, err := engine.CreateCredential(user, session, parsed)
	if err != nil {
		return nil, verificationError("verify registration", err)
	}

	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}

	return &RegistrationResult{
		Verified:     true,
		CredentialID: EncodeID(cred.ID),
		PublicKey:    cred.PublicKey,
		Counter:      cred.Authenticator.SignCount,
		DeviceType:   DeviceType(cred.Flags.BackupEligible),
		BackedUp:     cred.Flags.BackupState,
		Transports:   models.NormalizeTransports(transports),
	}, nil
}

// VerifyAuthentication checks an assertion against the stored credential.
// The returned counter is what the authenticator reported; rejecting a
// regression is left to the caller.
func (c WebAuthnCeremony) VerifyAuthentication(response []byte, expectedChallenge, origin, rpID string, stored models.Credential) (*AuthenticationResult, error) {
	engine, err := newEngine(rpID, "", origin)
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}

	parsed, err := protocol.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return nil, verificationError("parse authentication response", err)
	}

	cred, err := storedCredential(stored)
	if err != nil {
		return nil, err
	}

	handle := stored.WebAuthnUserID
	if handle == "" {
		handle = stored.UserID
	}
	user := &passkeyUser{handle: []byte(handle), credentials: []webauthn.Credential{cred}}
	session := webauthn.SessionData{
		Challenge:        expectedChallenge,
		RelyingPartyID:   rpID,
		UserID:           []byte(handle),
		UserVerification: protocol.VerificationPreferred,
	}

	if _, err := engine.ValidateLogin(user, session, parsed); err != nil {
		return nil, verificationError("verify authentication", err)
	}

	return &AuthenticationResult{
		Verified:   true,
		NewCounter: parsed.Response.AuthenticatorData.Counter,
	}, nil
}

type credentialIDEnvelope struct {
	ID    string                    `json:"id"`
	RawID protocol.URLEncodedBase64 `json:"rawId"`
}

func (c WebAuthnCeremony) ParseCredentialID(response []byte) (string, error) {
	var env credentialIDEnvelope
	if err := json.Unmarshal(response, &env); err != nil {
		return "", fmt.Errorf("%w: malformed authenticator response", common.ErrorValidation)
	}
	if len(env.RawID) > 0 {
		return EncodeID(env.RawID), nil
	}
	if env.ID == "" {
		return "", fmt.Errorf("%w: credential id missing", common.ErrorValidation)
	}
	return env.ID, nil
}

// EncodeID renders a raw credential id as unpadded base64url.
func EncodeID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeID accepts padded or unpadded base64url.
func DecodeID(id string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(id, "="))
	if err != nil || len(raw) == 0 {
		return nil, fmt.Errorf("%w: credential id is not base64url", common.ErrorValidation)
	}
	return raw, nil
}

// DeviceType maps the backup eligibility flag to a device type.
func DeviceType(backupEligible bool) string {
	if backupEligible {
		return models.DeviceMulti
	}
	return models.DeviceSingle
}

func descriptors(in []Descriptor) ([]protocol.CredentialDescriptor, error) {
	out := make([]protocol.CredentialDescriptor, 0, len(in))
	for _, d := range in {
		id, err := DecodeID(d.ID)
		if err != nil {
			return nil, err
		}
		var transports []protocol.AuthenticatorTransport
		for _, t := range d.Transports {
			transports = append(transports, protocol.AuthenticatorTransport(t))
		}
		out = append(out, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: id,
			Transport:    transports,
		})
	}
	return out, nil
}

func storedCredential(c models.Credential) (webauthn.Credential, error) {
	id, err := DecodeID(c.ID)
	if err != nil {
		return webauthn.Credential{}, err
	}

	transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transports))
	for _, t := range c.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}

	return webauthn.Credential{
		ID:        id,
		PublicKey: c.PublicKey,
		Transport: transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: c.DeviceType == models.DeviceMulti,
			BackupState:    c.BackedUp,
		},
		Authenticator: webauthn.Authenticator{SignCount: c.Counter},
	}, nil
}

func encodeOptions(v any, challenge string) (*Options, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}
	return &Options{JSON: raw, Challenge: challenge}, nil
}

func verificationError(step string, err error) error {
	var perr *protocol.Error
	if errors.As(err, &perr) && perr.DevInfo != "" {
		return fmt.Errorf("%w: %s: %s (%s)", common.ErrVerificationFailed, step, perr.Details, perr.DevInfo)
	}
	return fmt.Errorf("%w: %s: %v", common.ErrVerificationFailed, step, err)
}
