package credentials

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/passkeygate/internal/common"
	"github.com/dmitrijs2005/passkeygate/internal/server/models"
	"github.com/dmitrijs2005/passkeygate/internal/server/objectstore"
)

// DatasetVersion is the only dataset layout this build understands.
const DatasetVersion = 1

// Dataset is the provisioned set of users and credentials served in
// restricted mode.
type Dataset struct {
	Version     int                 `json:"version"`
	Users       []models.User       `json:"users"`
	Credentials []DatasetCredential `json:"credentials"`
}

// DatasetCredential is the serialized credential: the public key travels as
// unpadded base64url text like in the SQL store.
type DatasetCredential struct {
	ID             string   `json:"id"`
	UserID         string   `json:"userId"`
	WebAuthnUserID string   `json:"webAuthnUserId"`
	PublicKey      string   `json:"publicKey"`
	Counter        uint32   `json:"counter"`
	DeviceType     string   `json:"deviceType"`
	BackedUp       bool     `json:"backedUp"`
	Transports     []string `json:"transports"`
	CreatedAt      int64    `json:"createdAt"`
	LastUsedAt     *int64   `json:"lastUsedAt,omitempty"`
}

// NewDataset builds a dataset from repository records.
func NewDataset(users []models.User, creds []models.Credential) *Dataset {
	ds := &Dataset{
		Version:     DatasetVersion,
		Users:       append([]models.User{}, users...),
		Credentials: make([]DatasetCredential, 0, len(creds)),
	}
	for _, c := range creds {
		ds.Credentials = append(ds.Credentials, DatasetCredential{
			ID:             c.ID,
			UserID:         c.UserID,
			WebAuthnUserID: c.WebAuthnUserID,
			PublicKey:      base64.RawURLEncoding.EncodeToString(c.PublicKey),
			Counter:        c.Counter,
			DeviceType:     c.DeviceType,
			BackedUp:       c.BackedUp,
			Transports:     models.NormalizeTransports(c.Transports),
			CreatedAt:      c.CreatedAt,
			LastUsedAt:     c.LastUsedAt,
		})
	}
	return ds
}

// Decode checks the dataset and converts it to repository records.
func (ds *Dataset) Decode() ([]models.User, []models.Credential, error) {
	if ds.Version != DatasetVersion {
		return nil, nil, fmt.Errorf("unsupported dataset version %d", ds.Version)
	}

	userIDs := make(map[string]struct{}, len(ds.Users))
	names := make(map[string]struct{}, len(ds.Users))
	for _, u := range ds.Users {
		if err := validateUser(u.ID, u.Username); err != nil {
			return nil, nil, err
		}
		if _, dup := userIDs[u.ID]; dup {
			return nil, nil, fmt.Errorf("%w: duplicate user id %s", common.ErrorValidation, u.ID)
		}
		if _, dup := names[u.Username]; dup {
			return nil, nil, fmt.Errorf("%w: duplicate username %s", common.ErrorValidation, u.Username)
		}
		userIDs[u.ID] = struct{}{}
		names[u.Username] = struct{}{}
	}

	creds := make([]models.Credential, 0, len(ds.Credentials))
	seen := make(map[string]struct{}, len(ds.Credentials))
	for _, dc := range ds.Credentials {
		pk, err := base64.RawURLEncoding.DecodeString(dc.PublicKey)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: public key of %s: %v", common.ErrorValidation, dc.ID, err)
		}
		c := models.Credential{
			ID:             dc.ID,
			UserID:         dc.UserID,
			WebAuthnUserID: dc.WebAuthnUserID,
			PublicKey:      pk,
			Counter:        dc.Counter,
			DeviceType:     dc.DeviceType,
			BackedUp:       dc.BackedUp,
			Transports:     models.NormalizeTransports(dc.Transports),
			CreatedAt:      dc.CreatedAt,
			LastUsedAt:     dc.LastUsedAt,
		}
		if err := validateCredential(c); err != nil {
			return nil, nil, err
		}
		if _, ok := userIDs[c.UserID]; !ok {
			return nil, nil, fmt.Errorf("%w: credential %s references unknown user %s", common.ErrorValidation, c.ID, c.UserID)
		}
		if _, dup := seen[c.ID]; dup {
			return nil, nil, fmt.Errorf("%w: duplicate credential id %s", common.ErrorValidation, c.ID)
		}
		seen[c.ID] = struct{}{}
		creds = append(creds, c)
	}

	return append([]models.User{}, ds.Users...), creds, nil
}

// DatasetSource loads and stores the dataset. Load returns
// common.ErrorNotFound when nothing has been provisioned yet.
type DatasetSource interface {
	Load(ctx context.Context) (*Dataset, error)
	Save(ctx context.Context, ds *Dataset) error
}

func decodeDataset(raw []byte) (*Dataset, error) {
	ds := &Dataset{}
	if err := json.Unmarshal(raw, ds); err != nil {
		return nil, fmt.Errorf("parse dataset: %w", err)
	}
	return ds, nil
}

// FileSource keeps the dataset in a local JSON file, e.g. one baked into a
// deployment artifact.
type FileSource struct {
	Path string
}

func (s FileSource) Load(ctx context.Context) (*Dataset, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return decodeDataset(raw)
}

// Save replaces the file atomically through a temporary sibling.
func (s FileSource) Save(ctx context.Context, ds *Dataset) error {
	raw, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("create dataset dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.Path), ".dataset-*.json")
	if err != nil {
		return fmt.Errorf("create temp dataset: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write dataset: %w", err)
	}

	return os.Rename(tmp.Name(), s.Path)
}

// ObjectSource keeps the dataset under a versioned key of the object store.
type ObjectSource struct {
	Store objectstore.Store
	Key   string
}

func (s ObjectSource) Load(ctx context.Context) (*Dataset, error) {
	raw, err := s.Store.Get(ctx, s.Key)
	if err != nil {
		return nil, err
	}
	return decodeDataset(raw)
}

func (s ObjectSource) Save(ctx context.Context, ds *Dataset) error {
	raw, err := json.Marshal(ds)
	if err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}
	return s.Store.Put(ctx, s.Key, raw, "application/json")
}
