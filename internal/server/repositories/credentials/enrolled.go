package credentials

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/passkeygate/internal/common"
	"github.com/dmitrijs2005/passkeygate/internal/logging"
	"github.com/dmitrijs2005/passkeygate/internal/server/models"
)

// WritePolicy decides what the enrolled backend does with enrollment writes.
type WritePolicy string

const (
	// PolicyReject fails writes with common.ErrPolicyDenied.
	PolicyReject WritePolicy = "reject"
	// PolicyDiscard accepts writes without storing them.
	PolicyDiscard WritePolicy = "discard"
	// PolicyPersist writes a new dataset revision through to the source.
	PolicyPersist WritePolicy = "persist"
)

// snapshot is immutable once published; every change builds a new one.
type snapshot struct {
	users  map[string]models.User
	byName map[string]string
	creds  map[string]models.Credential
}

func newSnapshot(users []models.User, creds []models.Credential) *snapshot {
	s := &snapshot{
		users:  make(map[string]models.User, len(users)),
		byName: make(map[string]string, len(users)),
		creds:  make(map[string]models.Credential, len(creds)),
	}
	for _, u := range users {
		s.users[u.ID] = u
		s.byName[u.Username] = u.ID
	}
	for _, c := range creds {
		s.creds[c.ID] = c.Clone()
	}
	return s
}

func (s *snapshot) clone() *snapshot {
	out := &snapshot{
		users:  make(map[string]models.User, len(s.users)+1),
		byName: make(map[string]string, len(s.byName)+1),
		creds:  make(map[string]models.Credential, len(s.creds)+1),
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.byName {
		out.byName[k] = v
	}
	for k, v := range s.creds {
		out.creds[k] = v
	}
	return out
}

func (s *snapshot) sortedUsers() []models.User {
	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *snapshot) sortedCredentials(filter func(models.Credential) bool) []models.Credential {
	out := []models.Credential{}
	for _, c := range s.creds {
		if filter == nil || filter(c) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *snapshot) dataset() *Dataset {
	return NewDataset(s.sortedUsers(), s.sortedCredentials(nil))
}

// EnrolledRepository serves the provisioned dataset. It is loaded on first
// access; concurrent first accesses wait for one load, and a failed load is
// retried on the next access. Readers never see a partially built snapshot.
//
// Counter updates always apply to the in-process snapshot. Under
// PolicyPersist they, like enrollment writes, are also written through to
// the source before the new snapshot is published.
type EnrolledRepository struct {
	source DatasetSource
	policy WritePolicy
	logger logging.Logger
	now    func() time.Time

	snap    atomic.Pointer[snapshot]
	initMu  sync.Mutex
	writeMu sync.Mutex
}

var _ Repository = (*EnrolledRepository)(nil)

func NewEnrolledRepository(source DatasetSource, policy WritePolicy, logger logging.Logger) (*EnrolledRepository, error) {
	switch policy {
	case PolicyReject, PolicyDiscard, PolicyPersist:
	default:
		return nil, fmt.Errorf("unknown write policy %q", policy)
	}

	return &EnrolledRepository{
		source: source,
		policy: policy,
		logger: logger.With("module", "enrolled_repository"),
		now:    time.Now,
	}, nil
}

func (r *EnrolledRepository) load(ctx context.Context) (*snapshot, error) {
	if s := r.snap.Load(); s != nil {
		return s, nil
	}

	r.initMu.Lock()
	defer r.initMu.Unlock()

	if s := r.snap.Load(); s != nil {
		return s, nil
	}

	ds, err := r.source.Load(ctx)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		r.logger.Warn(ctx, "enrolled dataset not provisioned, serving an empty set")
		ds = &Dataset{Version: DatasetVersion}
	case err != nil:
		return nil, fmt.Errorf("load enrolled dataset: %w", err)
	}

	users, creds, err := ds.Decode()
	if err != nil {
		return nil, fmt.Errorf("load enrolled dataset: %w", err)
	}

	s := newSnapshot(users, creds)
	r.snap.Store(s)
	r.logger.Info(ctx, "enrolled dataset loaded", "users", len(users), "credentials", len(creds))

	return s, nil
}

func (r *EnrolledRepository) GetUser(ctx context.Context, id string) (*models.User, error) {
	s, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &u, nil
}

func (r *EnrolledRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	id, ok := s.byName[username]
	if !ok {
		return nil, common.ErrorNotFound
	}
	u := s.users[id]
	return &u, nil
}

func (r *EnrolledRepository) GetAllUsers(ctx context.Context) ([]models.User, error) {
	s, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return s.sortedUsers(), nil
}

func (r *EnrolledRepository) GetCredential(ctx context.Context, id string) (*models.Credential, error) {
	s, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	c, ok := s.creds[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	out := c.Clone()
	return &out, nil
}

func (r *EnrolledRepository) GetCredentialsByUser(ctx context.Context, userID string) ([]models.Credential, error) {
	s, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return s.sortedCredentials(func(c models.Credential) bool { return c.UserID == userID }), nil
}

func (r *EnrolledRepository) GetAllCredentials(ctx context.Context) ([]models.Credential, error) {
	s, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return s.sortedCredentials(nil), nil
}

func (r *EnrolledRepository) CreateUser(ctx context.Context, id, username string) (*models.User, error) {
	if err := validateUser(id, username); err != nil {
		return nil, err
	}
	u := models.User{ID: id, Username: username, CreatedAt: r.now().Unix()}

	err := r.write(ctx, "create_user", func(s *snapshot) error {
		if _, taken := s.byName[username]; taken {
			return common.ErrorAlreadyExists
		}
		if _, taken := s.users[id]; taken {
			return common.ErrorAlreadyExists
		}
		s.users[id] = u
		s.byName[username] = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *EnrolledRepository) SaveCredential(ctx context.Context, c models.Credential) error {
	if err := validateCredential(c); err != nil {
		return err
	}
	c = c.Clone()
	c.Transports = models.NormalizeTransports(c.Transports)
	if c.CreatedAt == 0 {
		c.CreatedAt = r.now().Unix()
	}

	return r.write(ctx, "save_credential", func(s *snapshot) error {
		if _, ok := s.users[c.UserID]; !ok {
			return fmt.Errorf("%w: unknown user %s", common.ErrorValidation, c.UserID)
		}
		if _, taken := s.creds[c.ID]; taken {
			return common.ErrorAlreadyExists
		}
		s.creds[c.ID] = c
		return nil
	})
}

func (r *EnrolledRepository) DeleteCredential(ctx context.Context, id string) error {
	return r.write(ctx, "delete_credential", func(s *snapshot) error {
		if _, ok := s.creds[id]; !ok {
			return common.ErrorNotFound
		}
		delete(s.creds, id)
		return nil
	})
}

// UpdateCounter is allowed under every policy.
func (r *EnrolledRepository) UpdateCounter(ctx context.Context, id string, counter uint32) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur, err := r.load(ctx)
	if err != nil {
		return err
	}

	c, ok := cur.creds[id]
	if !ok {
		return common.ErrorNotFound
	}
	if counter < c.Counter {
		return fmt.Errorf("%w: stored %d, got %d", common.ErrCounterRegression, c.Counter, counter)
	}

	next := cur.clone()
	c = c.Clone()
	c.Counter = counter
	usedAt := r.now().Unix()
	c.LastUsedAt = &usedAt
	next.creds[id] = c

	if r.policy == PolicyPersist {
		if err := r.source.Save(ctx, next.dataset()); err != nil {
			return fmt.Errorf("persist enrolled dataset: %w", err)
		}
	}

	r.snap.Store(next)
	return nil
}

// write applies an enrollment mutation according to the policy.
func (r *EnrolledRepository) write(ctx context.Context, op string, mutate func(s *snapshot) error) error {
	switch r.policy {
	case PolicyReject:
		return fmt.Errorf("%w: %s on enrolled dataset", common.ErrPolicyDenied, op)
	case PolicyDiscard:
		r.logger.Warn(ctx, "write to enrolled dataset discarded", "op", op)
		return nil
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur, err := r.load(ctx)
	if err != nil {
		return err
	}

	next := cur.clone()
	if err := mutate(next); err != nil {
		return err
	}

	if err := r.source.Save(ctx, next.dataset()); err != nil {
		return fmt.Errorf("persist enrolled dataset: %w", err)
	}

	r.snap.Store(next)
	r.logger.Info(ctx, "enrolled dataset updated", "op", op)
	return nil
}
