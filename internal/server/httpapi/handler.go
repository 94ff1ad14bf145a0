// Package httpapi exposes the gate over HTTP: passkey ceremonies, session
// inspection, credential management and the log endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/passkeygate/internal/common"
	"github.com/dmitrijs2005/passkeygate/internal/logging"
	"github.com/dmitrijs2005/passkeygate/internal/server/audit"
	"github.com/dmitrijs2005/passkeygate/internal/server/auth"
	"github.com/dmitrijs2005/passkeygate/internal/server/logstore"
	"github.com/dmitrijs2005/passkeygate/internal/server/models"
	"github.com/dmitrijs2005/passkeygate/internal/server/session"
)

const maxBodyBytes = 1 << 20

// Auditor records security-relevant actions.
type Auditor interface {
	Log(ctx context.Context, site, level, message string, extra audit.Extra)
}

// LogStore is the part of the log store the endpoints use.
type LogStore interface {
	AppendBatch(ctx context.Context, entries []models.LogEntry) ([]models.LogEntry, error)
	List(ctx context.Context, opts logstore.ListOptions) (*logstore.ListResult, error)
	ListSites(ctx context.Context) ([]string, error)
}

// Deps are the collaborators of the handler.
type Deps struct {
	Auth         *auth.Service
	Sessions     *session.Codec
	Logs         LogStore
	Audit        Auditor
	Logger       logging.Logger
	Interactive  bool
	RPName       string
	ChallengeTTL time.Duration
	LogAPIKey    string
}

type Handler struct {
	auth         *auth.Service
	sessions     *session.Codec
	logs         LogStore
	audit        Auditor
	logger       logging.Logger
	interactive  bool
	rpName       string
	challengeTTL time.Duration
	logAPIKey    string
	now          func() time.Time
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		auth:         d.Auth,
		sessions:     d.Sessions,
		logs:         d.Logs,
		audit:        d.Audit,
		logger:       d.Logger.With("module", "httpapi"),
		interactive:  d.Interactive,
		rpName:       d.RPName,
		challengeTTL: d.ChallengeTTL,
		logAPIKey:    d.LogAPIKey,
		now:          time.Now,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error(r.Context(), "failed to encode response", "error", err, "status", status)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	h.writeJSON(w, r, status, errorResponse{Error: message})
}

// handleError maps domain errors to HTTP responses.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrorValidation),
		errors.Is(err, common.ErrMissingChallenge),
		errors.Is(err, common.ErrVerificationFailed):
		h.writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrCounterRegression),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrorUnauthorized):
		h.writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, common.ErrPolicyDenied):
		h.writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, common.ErrorNotFound):
		h.writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, common.ErrorAlreadyExists):
		h.writeError(w, r, http.StatusConflict, "already exists")
	default:
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		h.writeError(w, r, http.StatusInternalServerError, "internal server error")
	}
}

// relyingParty derives the relying party from the request host.
func (h *Handler) relyingParty(r *http.Request) auth.RelyingParty {
	host := r.Host
	hostname := host
	if hn, _, err := net.SplitHostPort(host); err == nil {
		hostname = hn
	}

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}

	return auth.RelyingParty{
		ID:     hostname,
		Name:   h.rpName,
		Origin: scheme + "://" + host,
	}
}

func requestExtra(r *http.Request, metadata map[string]any) audit.Extra {
	return audit.Extra{
		Path:      r.URL.Path,
		UserAgent: r.UserAgent(),
		IP:        r.RemoteAddr,
		Metadata:  metadata,
	}
}

func (h *Handler) auditf(r *http.Request, level, message string, metadata map[string]any) {
	h.audit.Log(r.Context(), h.relyingParty(r).ID, level, message, requestExtra(r, metadata))
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
