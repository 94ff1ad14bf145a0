package credentials

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/passkeygate/internal/common"
	"github.com/dmitrijs2005/passkeygate/internal/dbx"
	"github.com/dmitrijs2005/passkeygate/internal/server/models"
)

// SQLRepository is the mutable backend. Queries use $n placeholders, which
// both the sqlite and the pgx drivers bind positionally. Public keys are kept
// as unpadded base64url text and transports as a JSON array.
type SQLRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ Repository = (*SQLRepository)(nil)

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db, now: time.Now}
}

const credentialColumns = `id, user_id, webauthn_user_id, public_key, counter, device_type, backed_up, transports, created_at, last_used_at`

func (r *SQLRepository) GetUser(ctx context.Context, id string) (*models.User, error) {
	return r.getUser(ctx, `SELECT id, username, created_at FROM users WHERE id = $1`, id)
}

func (r *SQLRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getUser(ctx, `SELECT id, username, created_at FROM users WHERE username = $1`, username)
}

func (r *SQLRepository) getUser(ctx context.Context, query string, arg string) (*models.User, error) {
	u := &models.User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Username, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

// CreateUser inserts a user. A taken username yields common.ErrorAlreadyExists
// so that concurrent first enrollments can fall back to the existing row.
func (r *SQLRepository) CreateUser(ctx context.Context, id, username string) (*models.User, error) {
	if err := validateUser(id, username); err != nil {
		return nil, err
	}

	u := &models.User{ID: id, Username: username, CreatedAt: r.now().Unix()}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, created_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		u.ID, u.Username, u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return nil, common.ErrorAlreadyExists
	}

	return u, nil
}

func (r *SQLRepository) GetAllUsers(ctx context.Context) ([]models.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, username, created_at FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return users, nil
}

func (r *SQLRepository) GetCredential(ctx context.Context, id string) (*models.Credential, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id = $1`, id)

	c, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *SQLRepository) GetCredentialsByUser(ctx context.Context, userID string) ([]models.Credential, error) {
	return r.queryCredentials(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE user_id = $1 ORDER BY created_at, id`, userID)
}

func (r *SQLRepository) GetAllCredentials(ctx context.Context) ([]models.Credential, error) {
	return r.queryCredentials(ctx, `SELECT `+credentialColumns+` FROM credentials ORDER BY created_at, id`)
}

func (r *SQLRepository) queryCredentials(ctx context.Context, query string, args ...any) ([]models.Credential, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	creds := []models.Credential{}
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return creds, nil
}

// SaveCredential inserts a new credential; an existing id is never
// overwritten and yields common.ErrorAlreadyExists.
func (r *SQLRepository) SaveCredential(ctx context.Context, c models.Credential) error {
	if err := validateCredential(c); err != nil {
		return err
	}

	transports, err := json.Marshal(models.NormalizeTransports(c.Transports))
	if err != nil {
		return fmt.Errorf("encode transports: %w", err)
	}

	createdAt := c.CreatedAt
	if createdAt == 0 {
		createdAt = r.now().Unix()
	}

	var lastUsed sql.NullInt64
	if c.LastUsedAt != nil {
		lastUsed = sql.NullInt64{Int64: *c.LastUsedAt, Valid: true}
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO credentials (`+credentialColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO NOTHING`,
		c.ID, c.UserID, c.WebAuthnUserID, base64.RawURLEncoding.EncodeToString(c.PublicKey),
		int64(c.Counter), c.DeviceType, c.BackedUp, string(transports), createdAt, lastUsed)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorAlreadyExists
	}
	return nil
}

// UpdateCounter stores counter and stamps last_used_at. The guarded UPDATE
// never lowers the stored value; when it matches no row the same transaction
// tells a missing credential apart from a regression.
func (r *SQLRepository) UpdateCounter(ctx context.Context, id string, counter uint32) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE credentials SET counter = $1, last_used_at = $2 WHERE id = $3 AND counter <= $1`,
			int64(counter), r.now().Unix(), id)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if n > 0 {
			return nil
		}

		var stored int64
		err = tx.QueryRowContext(ctx, `SELECT counter FROM credentials WHERE id = $1`, id).Scan(&stored)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return common.ErrorNotFound
			}
			return fmt.Errorf("db error: %w", err)
		}
		return fmt.Errorf("%w: stored %d, got %d", common.ErrCounterRegression, stored, counter)
	})
}

func (r *SQLRepository) DeleteCredential(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(s scanner) (*models.Credential, error) {
	var (
		c          models.Credential
		publicKey  string
		counter    int64
		transports string
		lastUsed   sql.NullInt64
	)

	err := s.Scan(&c.ID, &c.UserID, &c.WebAuthnUserID, &publicKey, &counter,
		&c.DeviceType, &c.BackedUp, &transports, &c.CreatedAt, &lastUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if c.PublicKey, err = base64.RawURLEncoding.DecodeString(publicKey); err != nil {
		return nil, fmt.Errorf("decode public key of %s: %w", c.ID, err)
	}

	c.Transports = []string{}
	if transports != "" {
		if err := json.Unmarshal([]byte(transports), &c.Transports); err != nil {
			return nil, fmt.Errorf("decode transports of %s: %w", c.ID, err)
		}
	}

	c.Counter = uint32(counter)
	if lastUsed.Valid {
		v := lastUsed.Int64
		c.LastUsedAt = &v
	}

	return &c, nil
}
