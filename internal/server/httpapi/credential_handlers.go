package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/dmitrijs2005/passkeygate/internal/server/models"
)

type credentialView struct {
	ID         string   `json:"id"`
	DeviceType string   `json:"deviceType"`
	BackedUp   bool     `json:"backedUp"`
	Transports []string `json:"transports"`
	CreatedAt  int64    `json:"createdAt"`
	LastUsedAt *int64   `json:"lastUsedAt"`
}

func (h *Handler) listCredentials(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFromContext(r.Context())

	creds, err := h.auth.ListCredentials(r.Context(), u.ID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	out := make([]credentialView, 0, len(creds))
	for _, c := range creds {
		transports := c.Transports
		if transports == nil {
			transports = []string{}
		}
		out = append(out, credentialView{
			ID:         c.ID,
			DeviceType: c.DeviceType,
			BackedUp:   c.BackedUp,
			Transports: transports,
			CreatedAt:  c.CreatedAt,
			LastUsedAt: c.LastUsedAt,
		})
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{"credentials": out})
}

func (h *Handler) deleteCredential(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFromContext(r.Context())

	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || req.ID == "" {
		h.writeError(w, r, http.StatusBadRequest, "credential id is required")
		return
	}

	if err := h.auth.DeleteCredential(r.Context(), u.ID, req.ID); err != nil {
		h.handleError(w, r, err)
		return
	}

	h.auditf(r, models.LevelInfo, "passkey deleted", map[string]any{"userId": u.ID, "credentialId": req.ID})
	h.writeJSON(w, r, http.StatusOK, map[string]bool{"ok": true})
}
