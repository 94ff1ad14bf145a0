// Package enroll snapshots the mutable credential store into an enrolled
// dataset that restricted deployments serve.
package enroll

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/passkeygate/internal/server/models"
	"github.com/dmitrijs2005/passkeygate/internal/server/repositories/credentials"
)

// Reader is the read side of a credential repository.
type Reader interface {
	GetAllUsers(ctx context.Context) ([]models.User, error)
	GetAllCredentials(ctx context.Context) ([]models.Credential, error)
}

// Export reads every user and credential from src and saves them to dst.
// The dataset is decoded before saving, so a revision that restricted mode
// would refuse is never written.
func Export(ctx context.Context, src Reader, dst credentials.DatasetSource) (*credentials.Dataset, error) {
	users, err := src.GetAllUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	creds, err := src.GetAllCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	ds := credentials.NewDataset(users, creds)
	if _, _, err := ds.Decode(); err != nil {
		return nil, err
	}

	if err := dst.Save(ctx, ds); err != nil {
		return nil, fmt.Errorf("save dataset: %w", err)
	}
	return ds, nil
}
