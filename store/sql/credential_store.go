package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/juanbarco92/delta/core"
	"github.com/uptrace/bun"
)

type CredentialOption func(*CredentialStore)

func WithSecretProvider(secrets core.SecretProvider) CredentialOption {
	return func(s *CredentialStore) {
		s.secrets = secrets
	}
}

func WithCredentialCodec(codec core.CredentialCodec) CredentialOption {
	return func(s *CredentialStore) {
		if codec != nil {
			s.codec = codec
		}
	}
}

type CredentialStore struct {
	db      *bun.DB
	repo    repository.Repository[*credentialRecord]
	codec   core.CredentialCodec
	secrets core.SecretProvider
}

func NewCredentialStore(db *bun.DB, opts ...CredentialOption) (*CredentialStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*credentialRecord](db, credentialHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid credential repository wiring: %w", err)
		}
	}
	store := &CredentialStore{db: db, repo: repo, codec: core.JSONCredentialCodec{}}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// ForUser scopes the store to one user so it satisfies core.TokenStore.
func (s *CredentialStore) ForUser(userID int64) core.TokenStore {
	return &UserTokenStore{store: s, userID: userID}
}

func (s *CredentialStore) Load(ctx context.Context, userID int64) (*core.Credential, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: credential store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", userID),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	payload := records[0].Payload
	if records[0].Sealed {
		if s.secrets == nil {
			return nil, fmt.Errorf("sqlstore: credential for user %d is sealed and no secret provider is configured", userID)
		}
		payload, err = s.secrets.Decrypt(ctx, payload)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: open credential for user %d: %w", userID, err)
		}
	}
	cred, err := s.codec.Decode(payload)
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (s *CredentialStore) Save(ctx context.Context, userID int64, cred core.Credential) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	if userID <= 0 {
		return fmt.Errorf("sqlstore: user id is required")
	}
	payload, err := s.codec.Encode(cred)
	if err != nil {
		return err
	}
	sealed := false
	keyID := ""
	if s.secrets != nil {
		payload, err = s.secrets.Encrypt(ctx, payload)
		if err != nil {
			return fmt.Errorf("sqlstore: seal credential for user %d: %w", userID, err)
		}
		sealed = true
		if identified, ok := s.secrets.(interface{ KeyID() string }); ok {
			keyID = identified.KeyID()
		}
	}

	now := time.Now().UTC()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findCredentialTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		created := record == nil
		if created {
			record = &credentialRecord{ID: uuid.NewString(), UserID: userID, CreatedAt: now}
		}
		record.Payload = payload
		record.Sealed = sealed
		record.KeyID = keyID
		record.ExpiresAt = nil
		if !cred.ExpiresAt.IsZero() {
			expiresAt := cred.ExpiresAt.UTC()
			record.ExpiresAt = &expiresAt
		}
		record.UpdatedAt = now

		if created {
			_, err = tx.NewInsert().Model(record).Exec(ctx)
			return err
		}
		_, err = tx.NewUpdate().Model(record).Where("id = ?", record.ID).Exec(ctx)
		return err
	})
}

func (s *CredentialStore) Delete(ctx context.Context, userID int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*credentialRecord)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: user %d", core.ErrCredentialNotFound, userID)
	}
	return nil
}

func findCredentialTx(ctx context.Context, tx bun.Tx, userID int64) (*credentialRecord, error) {
	record := &credentialRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

type UserTokenStore struct {
	store  *CredentialStore
	userID int64
}

func (s *UserTokenStore) UserID() int64 {
	return s.userID
}

func (s *UserTokenStore) Load(ctx context.Context) (*core.Credential, error) {
	return s.store.Load(ctx, s.userID)
}

func (s *UserTokenStore) Save(ctx context.Context, cred core.Credential) error {
	return s.store.Save(ctx, s.userID, cred)
}

var _ core.TokenStore = (*UserTokenStore)(nil)
