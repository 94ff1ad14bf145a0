package enroll

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/passkeygate/internal/common"
	"github.com/dmitrijs2005/passkeygate/internal/logging"
	"github.com/dmitrijs2005/passkeygate/internal/server/models"
	"github.com/dmitrijs2005/passkeygate/internal/server/objectstore"
	"github.com/dmitrijs2005/passkeygate/internal/server/repositories/credentials"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticReader struct {
	users []models.User
	creds []models.Credential
	err   error
}

func (s staticReader) GetAllUsers(ctx context.Context) ([]models.User, error) {
	return s.users, s.err
}

func (s staticReader) GetAllCredentials(ctx context.Context) ([]models.Credential, error) {
	return s.creds, nil
}

func TestExport_RoundTripsThroughEnrolledRepository(t *testing.T) {
	ctx := context.Background()
	used := int64(1_700_000_100)
	src := staticReader{
		users: []models.User{{ID: "u1", Username: "alice", CreatedAt: 1_700_000_000}},
		creds: []models.Credential{{
			ID: "cred-1", UserID: "u1", WebAuthnUserID: "u1", PublicKey: []byte{9, 8, 7},
			Counter: 12, DeviceType: models.DeviceMulti, BackedUp: true,
			Transports: []string{"internal", "hybrid"}, CreatedAt: 1_700_000_000, LastUsedAt: &used,
		}},
	}
	dst := credentials.ObjectSource{Store: objectstore.NewMemoryStore(), Key: "enrolled/v1/dataset.json"}

	ds, err := Export(ctx, src, dst)
	require.NoError(t, err)
	assert.Len(t, ds.Credentials, 1)

	repo, err := credentials.NewEnrolledRepository(dst, credentials.PolicyReject, logging.Discard())
	require.NoError(t, err)

	got, err := repo.GetCredential(ctx, "cred-1")
	require.NoError(t, err)
	if diff := cmp.Diff(src.creds[0], *got); diff != "" {
		t.Errorf("credential mismatch (-want +got):\n%s", diff)
	}
}

func TestExport_RefusesInvalidDataset(t *testing.T) {
	store := objectstore.NewMemoryStore()
	dst := credentials.ObjectSource{Store: store, Key: "enrolled/v1/dataset.json"}
	src := staticReader{
		users: []models.User{{ID: "u1", Username: "alice"}},
		creds: []models.Credential{{ID: "orphan", UserID: "ghost", PublicKey: []byte{1}, DeviceType: models.DeviceSingle}},
	}

	_, err := Export(context.Background(), src, dst)
	assert.ErrorIs(t, err, common.ErrorValidation)
	assert.Equal(t, 0, store.Len())
}

func TestExport_ReadError(t *testing.T) {
	boom := errors.New("db down")
	_, err := Export(context.Background(), staticReader{err: boom}, credentials.FileSource{Path: t.TempDir() + "/ds.json"})
	assert.ErrorIs(t, err, boom)
}
