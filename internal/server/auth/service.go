// Package auth runs the passkey registration and login flows on top of a
// credential repository and a ceremony engine.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dmitrijs2005/passkeygate/internal/common"
	"github.com/dmitrijs2005/passkeygate/internal/logging"
	"github.com/dmitrijs2005/passkeygate/internal/server/ceremony"
	"github.com/dmitrijs2005/passkeygate/internal/server/metrics"
	"github.com/dmitrijs2005/passkeygate/internal/server/models"
	"github.com/dmitrijs2005/passkeygate/internal/server/repositories/credentials"
)

const (
	MaxUsernameLength = 64
	userIDBytes       = 16
)

// RelyingParty identifies the site a ceremony runs for. It is derived from
// the request, so one server can front several hostnames.
type RelyingParty struct {
	ID     string
	Name   string
	Origin string
}

// RegistrationStart is what the begin step hands back: browser options plus
// the state the caller must keep until the finish step.
type RegistrationStart struct {
	Options *ceremony.Options
	User    *models.User
}

type LoginResult struct {
	User       *models.User
	Credential *models.Credential
}

type Service struct {
	repo                credentials.Repository
	ceremony            ceremony.Ceremony
	logger              logging.Logger
	registrationAllowed bool
	newUserID           func() (string, error)
}

func NewService(repo credentials.Repository, c ceremony.Ceremony, logger logging.Logger, registrationAllowed bool) *Service {
	return &Service{
		repo:                repo,
		ceremony:            c,
		logger:              logger.With("module", "auth"),
		registrationAllowed: registrationAllowed,
		newUserID:           func() (string, error) { return common.MakeRandHexString(userIDBytes) },
	}
}

// RegistrationAllowed reports whether this process accepts enrollment.
func (s *Service) RegistrationAllowed() bool {
	return s.registrationAllowed
}

// NormalizeUsername trims and lower-cases a username and checks its length.
func NormalizeUsername(username string) (string, error) {
	u := strings.ToLower(strings.TrimSpace(username))
	if u == "" {
		return "", fmt.Errorf("%w: username is required", common.ErrorValidation)
	}
	if utf8.RuneCountInString(u) > MaxUsernameLength {
		return "", fmt.Errorf("%w: username longer than %d characters", common.ErrorValidation, MaxUsernameLength)
	}
	return u, nil
}

// BeginRegistration finds or creates the user and returns creation options
// that exclude the user's existing credentials.
func (s *Service) BeginRegistration(ctx context.Context, username string, rp RelyingParty) (*RegistrationStart, error) {
	if !s.registrationAllowed {
		return nil, fmt.Errorf("%w: registration is disabled", common.ErrPolicyDenied)
	}

	name, err := NormalizeUsername(username)
	if err != nil {
		return nil, err
	}

	user, err := s.findOrCreateUser(ctx, name)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.GetCredentialsByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	exclude := make([]ceremony.Descriptor, 0, len(existing))
	for _, c := range existing {
		exclude = append(exclude, ceremony.Descriptor{ID: c.ID, Transports: c.Transports})
	}

	opts, err := s.ceremony.RegistrationOptions(ceremony.RegistrationRequest{
		RPID:                 rp.ID,
		RPName:               rp.Name,
		Origin:               rp.Origin,
		UserName:             user.Username,
		DisplayName:          user.Username,
		UserHandle:           user.ID,
		ExcludeCredentialIDs: exclude,
	})
	if err != nil {
		return nil, fmt.Errorf("registration options: %w", err)
	}

	return &RegistrationStart{Options: opts, User: user}, nil
}

func (s *Service) findOrCreateUser(ctx context.Context, name string) (*models.User, error) {
	user, err := s.repo.GetUserByUsername(ctx, name)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("load user: %w", err)
	}

	id, err := s.newUserID()
	if err != nil {
		return nil, fmt.Errorf("generate user id: %w", err)
	}

	user, err = s.repo.CreateUser(ctx, id, name)
	if errors.Is(err, common.ErrorAlreadyExists) {
		// lost a race against a concurrent registration of the same name
		return s.repo.GetUserByUsername(ctx, name)
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info(ctx, "user created", "user_id", user.ID)
	return user, nil
}

// FinishRegistration verifies the attestation and stores the new credential
// for userID.
func (s *Service) FinishRegistration(ctx context.Context, response []byte, challenge, userID string, rp RelyingParty) (*models.Credential, error) {
	if !s.registrationAllowed {
		return nil, fmt.Errorf("%w: registration is disabled", common.ErrPolicyDenied)
	}
	if challenge == "" || userID == "" {
		return nil, common.ErrMissingChallenge
	}

	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: unknown user", common.ErrVerificationFailed)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	res, err := s.ceremony.VerifyRegistration(response, challenge, rp.Origin, rp.ID, userID)
	if err != nil {
		metrics.RecordAuth(metrics.FlowRegistration, metrics.OutcomeFailure)
		return nil, err
	}
	if !res.Verified {
		metrics.RecordAuth(metrics.FlowRegistration, metrics.OutcomeFailure)
		return nil, common.ErrVerificationFailed
	}

	cred := models.Credential{
		ID:             res.CredentialID,
		UserID:         userID,
		WebAuthnUserID: userID,
		PublicKey:      res.PublicKey,
		Counter:        res.Counter,
		DeviceType:     res.DeviceType,
		BackedUp:       res.BackedUp,
		Transports:     models.NormalizeTransports(res.Transports),
	}
	if err := s.repo.SaveCredential(ctx, cred); err != nil {
		metrics.RecordAuth(metrics.FlowRegistration, metrics.OutcomeFailure)
		return nil, fmt.Errorf("save credential: %w", err)
	}

	metrics.RecordAuth(metrics.FlowRegistration, metrics.OutcomeSuccess)
	s.logger.Info(ctx, "credential registered", "user_id", userID, "device_type", cred.DeviceType)

	saved, err := s.repo.GetCredential(ctx, cred.ID)
	if errors.Is(err, common.ErrorNotFound) {
		// the discard policy accepts writes without storing them
		return &cred, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	return saved, nil
}

// BeginLogin returns request options listing every enrolled credential.
func (s *Service) BeginLogin(ctx context.Context, rp RelyingParty) (*ceremony.Options, error) {
	all, err := s.repo.GetAllCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: no passkeys enrolled, register a passkey first", common.ErrorValidation)
	}

	allow := make([]ceremony.Descriptor, 0, len(all))
	for _, c := range all {
		allow = append(allow, ceremony.Descriptor{ID: c.ID, Transports: c.Transports})
	}

	opts, err := s.ceremony.AuthenticationOptions(ceremony.AuthenticationRequest{
		RPID:             rp.ID,
		RPName:           rp.Name,
		Origin:           rp.Origin,
		AllowCredentials: allow,
	})
	if err != nil {
		return nil, fmt.Errorf("authentication options: %w", err)
	}
	return opts, nil
}

// FinishLogin verifies the assertion, rejects a counter that went backwards
// and records the new counter before returning the authenticated user.
func (s *Service) FinishLogin(ctx context.Context, response []byte, challenge string, rp RelyingParty) (*LoginResult, error) {
	if challenge == "" {
		return nil, common.ErrMissingChallenge
	}

	credID, err := s.ceremony.ParseCredentialID(response)
	if err != nil {
		return nil, err
	}

	stored, err := s.repo.GetCredential(ctx, credID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			metrics.RecordAuth(metrics.FlowLogin, metrics.OutcomeFailure)
			return nil, fmt.Errorf("%w: passkey not found", common.ErrVerificationFailed)
		}
		return nil, fmt.Errorf("load credential: %w", err)
	}

	res, err := s.ceremony.VerifyAuthentication(response, challenge, rp.Origin, rp.ID, *stored)
	if err != nil {
		metrics.RecordAuth(metrics.FlowLogin, metrics.OutcomeFailure)
		return nil, err
	}
	if !res.Verified {
		metrics.RecordAuth(metrics.FlowLogin, metrics.OutcomeFailure)
		return nil, common.ErrVerificationFailed
	}

	if res.NewCounter < stored.Counter {
		metrics.RecordAuth(metrics.FlowLogin, metrics.OutcomeRejected)
		s.logger.Warn(ctx, "signature counter regression", "credential_id", stored.ID, "stored", stored.Counter, "got", res.NewCounter)
		return nil, fmt.Errorf("%w: stored %d, got %d", common.ErrCounterRegression, stored.Counter, res.NewCounter)
	}

	if err := s.repo.UpdateCounter(ctx, stored.ID, res.NewCounter); err != nil {
		if errors.Is(err, common.ErrCounterRegression) {
			metrics.RecordAuth(metrics.FlowLogin, metrics.OutcomeRejected)
			return nil, err
		}
		return nil, fmt.Errorf("update counter: %w", err)
	}

	user, err := s.repo.GetUser(ctx, stored.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	updated, err := s.repo.GetCredential(ctx, stored.ID)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}

	metrics.RecordAuth(metrics.FlowLogin, metrics.OutcomeSuccess)
	return &LoginResult{User: user, Credential: updated}, nil
}

func (s *Service) ListCredentials(ctx context.Context, userID string) ([]models.Credential, error) {
	return s.repo.GetCredentialsByUser(ctx, userID)
}

// DeleteCredential removes a credential owned by userID. Credentials of other
// users are reported as not found.
func (s *Service) DeleteCredential(ctx context.Context, userID, credentialID string) error {
	if credentialID == "" {
		return fmt.Errorf("%w: credential id is required", common.ErrorValidation)
	}

	c, err := s.repo.GetCredential(ctx, credentialID)
	if err != nil {
		return err
	}
	if c.UserID != userID {
		return common.ErrorNotFound
	}

	if err := s.repo.DeleteCredential(ctx, credentialID); err != nil {
		return err
	}

	s.logger.Info(ctx, "credential deleted", "user_id", userID, "credential_id", credentialID)
	return nil
}

func (s *Service) CurrentUser(ctx context.Context, userID string) (*models.User, error) {
	return s.repo.GetUser(ctx, userID)
}
