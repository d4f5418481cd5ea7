// Package sqlstore persists users, credentials and synced items with bun on
// sqlite or postgres.
package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db          *bun.DB
	users       *UserStore
	credentials *CredentialStore
	items       *ItemStore
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...CredentialOption) (*RepositoryFactory, error) {
	if client == nil {
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	}
	return NewRepositoryFactoryFromDB(client.DB(), opts...)
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...CredentialOption) (*RepositoryFactory, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	users, err := NewUserStore(db)
	if err != nil {
		return nil, err
	}
	credentials, err := NewCredentialStore(db, opts...)
	if err != nil {
		return nil, err
	}
	items, err := NewItemStore(db)
	if err != nil {
		return nil, err
	}
	return &RepositoryFactory{db: db, users: users, credentials: credentials, items: items}, nil
}

func (f *RepositoryFactory) DB() *bun.DB { return f.db }

func (f *RepositoryFactory) UserStore() *UserStore { return f.users }

func (f *RepositoryFactory) CredentialStore() *CredentialStore { return f.credentials }

func (f *RepositoryFactory) ItemStore() *ItemStore { return f.items }
