package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/juanbarco92/delta/core"
	"github.com/uptrace/bun"
)

type UserStore struct {
	db   *bun.DB
	repo repository.Repository[*userRecord]
}

func NewUserStore(db *bun.DB) (*UserStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*userRecord](db, userHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid user repository wiring: %w", err)
		}
	}
	return &UserStore{db: db, repo: repo}, nil
}

func (s *UserStore) Create(ctx context.Context, user core.User) (core.User, error) {
	if s == nil || s.repo == nil {
		return core.User{}, fmt.Errorf("sqlstore: user store is not configured")
	}
	user.Email = strings.TrimSpace(user.Email)
	if user.Email == "" {
		return core.User{}, fmt.Errorf("sqlstore: user email is required")
	}
	if user.MarketplaceUserID <= 0 {
		return core.User{}, fmt.Errorf("sqlstore: marketplace user id is required")
	}

	created, err := s.repo.Create(ctx, newUserRecord(user, time.Now().UTC()))
	if err != nil {
		return core.User{}, err
	}
	return created.toDomain(), nil
}

func (s *UserStore) Get(ctx context.Context, id int64) (core.User, error) {
	return s.findOne(ctx, "id", id)
}

func (s *UserStore) GetByMarketplaceUserID(ctx context.Context, marketplaceUserID int64) (core.User, error) {
	return s.findOne(ctx, "marketplace_user_id", marketplaceUserID)
}

func (s *UserStore) findOne(ctx context.Context, column string, value int64) (core.User, error) {
	if s == nil || s.repo == nil {
		return core.User{}, fmt.Errorf("sqlstore: user store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy(column, "=", value),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.User{}, err
	}
	if len(records) == 0 {
		return core.User{}, fmt.Errorf("%w: %s %d", core.ErrUserNotFound, column, value)
	}
	return records[0].toDomain(), nil
}
