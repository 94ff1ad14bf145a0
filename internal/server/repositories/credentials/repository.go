// Package credentials stores users and their passkeys.
//
// Two backends implement Repository: SQLRepository, a mutable relational
// store used for interactive enrollment, and EnrolledRepository, a read-mostly
// view of a provisioned dataset whose writes follow a configured policy.
// Callers pick one at startup and never branch on which one they hold.
package credentials

import (
	"context"

	"github.com/dmitrijs2005/passkeygate/internal/server/models"
)

// Repository is the storage contract of users and credentials.
//
// Missing records yield common.ErrorNotFound, writes a backend refuses yield
// common.ErrPolicyDenied and UpdateCounter refuses to lower a stored counter
// with common.ErrCounterRegression. Lookups are exact matches.
type Repository interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	CreateUser(ctx context.Context, id, username string) (*models.User, error)
	GetAllUsers(ctx context.Context) ([]models.User, error)

	GetCredential(ctx context.Context, id string) (*models.Credential, error)
	GetCredentialsByUser(ctx context.Context, userID string) ([]models.Credential, error)
	GetAllCredentials(ctx context.Context) ([]models.Credential, error)
	SaveCredential(ctx context.Context, cred models.Credential) error
	UpdateCounter(ctx context.Context, id string, counter uint32) error
	DeleteCredential(ctx context.Context, id string) error
}
