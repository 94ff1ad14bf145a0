package ceremony

import (
	"encoding/json"
	"testing"

	"github.com/descope/virtualwebauthn"
	"github.com/dmitrijs2005/passkeygate/internal/common"
	"github.com/dmitrijs2005/passkeygate/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRPID   = "gate.example"
	testOrigin = "https://gate.example"
)

var testRP = virtualwebauthn.RelyingParty{Name: "Passkey Gate", ID: testRPID, Origin: testOrigin}

// register runs a full registration ceremony with a virtual authenticator.
func register(t *testing.T, c WebAuthnCeremony, auth virtualwebauthn.Authenticator, cred virtualwebauthn.Credential, handle string) *RegistrationResult {
	t.Helper()

	opts, err := c.RegistrationOptions(RegistrationRequest{
		RPID:        testRPID,
		RPName:      "Passkey Gate",
		Origin:      testOrigin,
		UserName:    "alice",
		DisplayName: "alice",
		UserHandle:  handle,
	})
	require.NoError(t, err)

	parsed, err := virtualwebauthn.ParseAttestationOptions(string(opts.JSON))
	require.NoError(t, err)
	response := virtualwebauthn.CreateAttestationResponse(testRP, auth, cred, *parsed)

	res, err := c.VerifyRegistration([]byte(response), opts.Challenge, testOrigin, testRPID, handle)
	require.NoError(t, err)
	return res
}

func login(t *testing.T, c WebAuthnCeremony, auth virtualwebauthn.Authenticator, cred virtualwebauthn.Credential, allow []Descriptor) (string, string) {
	t.Helper()

	opts, err := c.AuthenticationOptions(AuthenticationRequest{
		RPID:             testRPID,
		Origin:           testOrigin,
		AllowCredentials: allow,
	})
	require.NoError(t, err)

	parsed, err := virtualwebauthn.ParseAssertionOptions(string(opts.JSON))
	require.NoError(t, err)
	return virtualwebauthn.CreateAssertionResponse(testRP, auth, cred, *parsed), opts.Challenge
}

func storedFrom(res *RegistrationResult, userID string) models.Credential {
	return models.Credential{
		ID:             res.CredentialID,
		UserID:         userID,
		WebAuthnUserID: userID,
		PublicKey:      res.PublicKey,
		Counter:        res.Counter,
		DeviceType:     res.DeviceType,
		BackedUp:       res.BackedUp,
		Transports:     res.Transports,
	}
}

func TestRegistrationAndLogin(t *testing.T) {
	c := NewWebAuthnCeremony()
	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	res := register(t, c, auth, cred, "a1b2c3")
	assert.True(t, res.Verified)
	assert.NotEmpty(t, res.CredentialID)
	assert.NotEmpty(t, res.PublicKey)
	assert.Equal(t, uint32(0), res.Counter)
	assert.Contains(t, []string{models.DeviceSingle, models.DeviceMulti}, res.DeviceType)
	assert.NotNil(t, res.Transports)

	auth.AddCredential(cred)
	stored := storedFrom(res, "a1b2c3")

	cred.Counter = 5
	response, challenge := login(t, c, auth, cred, []Descriptor{{ID: stored.ID}})

	id, err := c.ParseCredentialID([]byte(response))
	require.NoError(t, err)
	assert.Equal(t, stored.ID, id)

	out, err := c.VerifyAuthentication([]byte(response), challenge, testOrigin, testRPID, stored)
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.GreaterOrEqual(t, out.NewCounter, uint32(5))
}

func TestVerifyRegistration_WrongChallenge(t *testing.T) {
	c := NewWebAuthnCeremony()
	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	opts, err := c.RegistrationOptions(RegistrationRequest{RPID: testRPID, Origin: testOrigin, UserName: "bob", UserHandle: "u2"})
	require.NoError(t, err)
	parsed, err := virtualwebauthn.ParseAttestationOptions(string(opts.JSON))
	require.NoError(t, err)
	response := virtualwebauthn.CreateAttestationResponse(testRP, auth, cred, *parsed)

	_, err = c.VerifyRegistration([]byte(response), "bm90LXRoZS1jaGFsbGVuZ2U", testOrigin, testRPID, "u2")
	assert.ErrorIs(t, err, common.ErrVerificationFailed)
}

func TestVerifyRegistration_WrongOrigin(t *testing.T) {
	c := NewWebAuthnCeremony()
	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	opts, err := c.RegistrationOptions(RegistrationRequest{RPID: testRPID, Origin: testOrigin, UserName: "bob", UserHandle: "u2"})
	require.NoError(t, err)
	parsed, err := virtualwebauthn.ParseAttestationOptions(string(opts.JSON))
	require.NoError(t, err)
	response := virtualwebauthn.CreateAttestationResponse(testRP, auth, cred, *parsed)

	_, err = c.VerifyRegistration([]byte(response), opts.Challenge, "https://evil.example", testRPID, "u2")
	assert.ErrorIs(t, err, common.ErrVerificationFailed)
}

func TestVerifyAuthentication_WrongKey(t *testing.T) {
	c := NewWebAuthnCeremony()
	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	res := register(t, c, auth, cred, "u3")
	auth.AddCredential(cred)

	other := register(t, c, virtualwebauthn.NewAuthenticator(), virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2), "u3")

	stored := storedFrom(res, "u3")
	stored.PublicKey = other.PublicKey

	response, challenge := login(t, c, auth, cred, nil)
	_, err := c.VerifyAuthentication([]byte(response), challenge, testOrigin, testRPID, stored)
	assert.ErrorIs(t, err, common.ErrVerificationFailed)
}

func TestVerify_Garbage(t *testing.T) {
	c := NewWebAuthnCeremony()

	_, err := c.VerifyRegistration([]byte(`{"id":"x"}`), "abc", testOrigin, testRPID, "u")
	assert.ErrorIs(t, err, common.ErrVerificationFailed)

	_, err = c.VerifyAuthentication([]byte(`not json`), "abc", testOrigin, testRPID, models.Credential{ID: "AQID"})
	assert.ErrorIs(t, err, common.ErrVerificationFailed)
}

func TestRegistrationOptions_Exclusions(t *testing.T) {
	c := NewWebAuthnCeremony()

	opts, err := c.RegistrationOptions(RegistrationRequest{
		RPID:       testRPID,
		RPName:     "Passkey Gate",
		Origin:     testOrigin,
		UserName:   "alice",
		UserHandle: "u1",
		ExcludeCredentialIDs: []Descriptor{
			{ID: "AQID", Transports: []string{"usb"}},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, opts.Challenge)

	var body struct {
		Challenge string `json:"challenge"`
		RP        struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"rp"`
		User struct {
			Name string `json:"name"`
		} `json:"user"`
		Exclude []struct {
			ID         string   `json:"id"`
			Transports []string `json:"transports"`
		} `json:"excludeCredentials"`
		Attestation string `json:"attestation"`
	}
	require.NoError(t, json.Unmarshal(opts.JSON, &body))

	assert.Equal(t, opts.Challenge, body.Challenge)
	assert.Equal(t, testRPID, body.RP.ID)
	assert.Equal(t, "Passkey Gate", body.RP.Name)
	assert.Equal(t, "alice", body.User.Name)
	require.Len(t, body.Exclude, 1)
	assert.Equal(t, "AQID", body.Exclude[0].ID)
	assert.Equal(t, []string{"usb"}, body.Exclude[0].Transports)
	assert.Equal(t, "none", body.Attestation)
}

func TestRegistrationOptions_NoExclusions(t *testing.T) {
	opts, err := NewWebAuthnCeremony().RegistrationOptions(RegistrationRequest{RPID: testRPID, Origin: testOrigin, UserName: "a", UserHandle: "u1"})
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(opts.JSON, &body))
	_, has := body["excludeCredentials"]
	assert.False(t, has)
}

func TestAuthenticationOptions_AllowList(t *testing.T) {
	opts, err := NewWebAuthnCeremony().AuthenticationOptions(AuthenticationRequest{
		RPID:             testRPID,
		Origin:           testOrigin,
		AllowCredentials: []Descriptor{{ID: "AQID"}, {ID: "BAUG", Transports: []string{"internal", "hybrid"}}},
	})
	require.NoError(t, err)

	var body struct {
		Challenge        string `json:"challenge"`
		RPID             string `json:"rpId"`
		UserVerification string `json:"userVerification"`
		Allow            []struct {
			ID string `json:"id"`
		} `json:"allowCredentials"`
	}
	require.NoError(t, json.Unmarshal(opts.JSON, &body))
	assert.Equal(t, opts.Challenge, body.Challenge)
	assert.Equal(t, testRPID, body.RPID)
	assert.Equal(t, "preferred", body.UserVerification)
	require.Len(t, body.Allow, 2)
	assert.Equal(t, "BAUG", body.Allow[1].ID)
}

func TestAuthenticationOptions_BadID(t *testing.T) {
	_, err := NewWebAuthnCeremony().AuthenticationOptions(AuthenticationRequest{
		RPID: testRPID, Origin: testOrigin, AllowCredentials: []Descriptor{{ID: "***"}},
	})
	assert.ErrorIs(t, err, common.ErrorValidation)
}

func TestParseCredentialID(t *testing.T) {
	c := NewWebAuthnCeremony()

	id, err := c.ParseCredentialID([]byte(`{"id":"ignored","rawId":"AQID"}`))
	require.NoError(t, err)
	assert.Equal(t, "AQID", id)

	id, err = c.ParseCredentialID([]byte(`{"id":"AQID"}`))
	require.NoError(t, err)
	assert.Equal(t, "AQID", id)

	_, err = c.ParseCredentialID([]byte(`{}`))
	assert.ErrorIs(t, err, common.ErrorValidation)

	_, err = c.ParseCredentialID([]byte(`[`))
	assert.ErrorIs(t, err, common.ErrorValidation)
}

func TestIDCodec(t *testing.T) {
	raw, err := DecodeID("AQID")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, raw)

	raw, err = DecodeID("AQI=")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, raw)
	assert.Equal(t, "AQI", EncodeID(raw))

	_, err = DecodeID("")
	assert.ErrorIs(t, err, common.ErrorValidation)
}

func TestDeviceType(t *testing.T) {
	assert.Equal(t, models.DeviceMulti, DeviceType(true))
	assert.Equal(t, models.DeviceSingle, DeviceType(false))
}
