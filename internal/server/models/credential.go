package models

// Device types reported for a credential.
const (
	DeviceSingle = "singleDevice"
	DeviceMulti  = "multiDevice"
)

// Credential is a registered passkey.
//
// ID is the authenticator's credential id in unpadded base64url. PublicKey is
// the raw COSE key. Counter never decreases. Timestamps are epoch seconds;
// LastUsedAt stays nil until the first successful login.
type Credential struct {
	ID             string   `json:"id"`
	UserID         string   `json:"userId"`
	WebAuthnUserID string   `json:"webAuthnUserId"`
	PublicKey      []byte   `json:"publicKey"`
	Counter        uint32   `json:"counter"`
	DeviceType     string   `json:"deviceType"`
	BackedUp       bool     `json:"backedUp"`
	Transports     []string `json:"transports"`
	CreatedAt      int64    `json:"createdAt"`
	LastUsedAt     *int64   `json:"lastUsedAt"`
}

// Clone returns a deep copy, so callers can hand out credentials from a
// shared snapshot without aliasing.
func (c Credential) Clone() Credential {
	out := c
	if c.PublicKey != nil {
		out.PublicKey = append([]byte(nil), c.PublicKey...)
	}
	if c.Transports != nil {
		out.Transports = append([]string(nil), c.Transports...)
	}
	if c.LastUsedAt != nil {
		v := *c.LastUsedAt
		out.LastUsedAt = &v
	}
	return out
}

// NormalizeTransports removes duplicates and empty names while keeping the
// first-seen order. The result is never nil.
func NormalizeTransports(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, t := range in {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
