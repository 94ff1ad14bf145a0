package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrijs2005/passkeygate/internal/common"
	"github.com/dmitrijs2005/passkeygate/internal/server/models"
)

type registerRequest struct {
	Username string `json:"username"`
}

type verifyResponse struct {
	Verified bool   `json:"verified"`
	UserID   string `json:"userId,omitempty"`
}

type sessionResponse struct {
	User        *models.User `json:"user"`
	Interactive bool         `json:"interactive"`
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", common.ErrorValidation, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", common.ErrorValidation)
	}
	return body, nil
}

func cookieValue(r *http.Request, name string) string {
	ck, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}

func (h *Handler) startSession(w http.ResponseWriter, userID string) error {
	token, err := h.sessions.Issue(userID, h.now())
	if err != nil {
		return err
	}
	h.sessions.SetCookie(w, token)
	return nil
}

func (h *Handler) beginRegistration(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	start, err := h.auth.BeginRegistration(r.Context(), req.Username, h.relyingParty(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.sessions.SetShortLived(w, common.ChallengeCookieName, start.Options.Challenge, h.challengeTTL)
	h.sessions.SetShortLived(w, common.UserIDCookieName, start.User.ID, h.challengeTTL)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(start.Options.JSON)
}

func (h *Handler) finishRegistration(w http.ResponseWriter, r *http.Request) {
	if !h.auth.RegistrationAllowed() {
		h.handleError(w, r, common.ErrPolicyDenied)
		return
	}

	challenge := cookieValue(r, common.ChallengeCookieName)
	userID := cookieValue(r, common.UserIDCookieName)
	if challenge == "" || userID == "" {
		h.handleError(w, r, common.ErrMissingChallenge)
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	// A challenge is good for one attempt whatever the outcome.
	h.sessions.ClearNamed(w, common.ChallengeCookieName)
	h.sessions.ClearNamed(w, common.UserIDCookieName)

	cred, err := h.auth.FinishRegistration(r.Context(), body, challenge, userID, h.relyingParty(r))
	if err != nil {
		if errors.Is(err, common.ErrVerificationFailed) {
			h.auditf(r, models.LevelWarn, "passkey registration failed", map[string]any{"userId": userID})
		}
		h.handleError(w, r, err)
		return
	}

	if err := h.startSession(w, userID); err != nil {
		h.handleError(w, r, err)
		return
	}

	h.auditf(r, models.LevelInfo, "passkey registered", map[string]any{
		"userId":       userID,
		"credentialId": cred.ID,
		"deviceType":   cred.DeviceType,
	})
	h.writeJSON(w, r, http.StatusOK, verifyResponse{Verified: true, UserID: userID})
}

func (h *Handler) beginLogin(w http.ResponseWriter, r *http.Request) {
	opts, err := h.auth.BeginLogin(r.Context(), h.relyingParty(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.sessions.SetShortLived(w, common.ChallengeCookieName, opts.Challenge, h.challengeTTL)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(opts.JSON)
}

func (h *Handler) finishLogin(w http.ResponseWriter, r *http.Request) {
	challenge := cookieValue(r, common.ChallengeCookieName)
	if challenge == "" {
		h.handleError(w, r, common.ErrMissingChallenge)
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.sessions.ClearNamed(w, common.ChallengeCookieName)

	res, err := h.auth.FinishLogin(r.Context(), body, challenge, h.relyingParty(r))
	if err != nil {
		switch {
		case errors.Is(err, common.ErrCounterRegression):
			h.auditf(r, models.LevelError, "signature counter regression", nil)
		case errors.Is(err, common.ErrVerificationFailed):
			h.auditf(r, models.LevelWarn, "passkey login failed", nil)
		}
		h.handleError(w, r, err)
		return
	}

	if err := h.startSession(w, res.User.ID); err != nil {
		h.handleError(w, r, err)
		return
	}

	h.auditf(r, models.LevelInfo, "passkey login", map[string]any{
		"userId":       res.User.ID,
		"credentialId": res.Credential.ID,
	})
	h.writeJSON(w, r, http.StatusOK, verifyResponse{Verified: true, UserID: res.User.ID})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.ClearCookie(w)
	if u, ok := UserFromContext(r.Context()); ok {
		h.auditf(r, models.LevelInfo, "logout", map[string]any{"userId": u.ID})
	}
	h.writeJSON(w, r, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) currentSession(w http.ResponseWriter, r *http.Request) {
	resp := sessionResponse{Interactive: h.interactive}
	if u, ok := UserFromContext(r.Context()); ok {
		resp.User = u
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}
