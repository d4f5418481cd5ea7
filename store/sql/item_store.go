package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/juanbarco92/delta/core"
	"github.com/uptrace/bun"
)

type ItemReader interface {
	Get(ctx context.Context, id string) (core.ItemDetail, error)
}

type ItemStore struct {
	db   *bun.DB
	repo repository.Repository[*itemRecord]
}

func NewItemStore(db *bun.DB) (*ItemStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*itemRecord](db, itemHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid item repository wiring: %w", err)
		}
	}
	return &ItemStore{db: db, repo: repo}, nil
}

func (s *ItemStore) Upsert(ctx context.Context, item core.ItemDetail) error {
	_, err := s.UpsertMany(ctx, []core.ItemDetail{item})
	return err
}

// UpsertMany writes all items in one transaction and returns how many rows
// were written.
func (s *ItemStore) UpsertMany(ctx context.Context, items []core.ItemDetail) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: item store is not configured")
	}
	for _, item := range items {
		if strings.TrimSpace(item.ID) == "" {
			return 0, fmt.Errorf("sqlstore: item id is required")
		}
		if item.UserID <= 0 {
			return 0, fmt.Errorf("sqlstore: item %s user id is required", item.ID)
		}
	}
	if len(items) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	written := 0
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, item := range items {
			id := strings.TrimSpace(item.ID)
			record, err := findItemTx(ctx, tx, id)
			if err != nil {
				return err
			}
			created := record == nil
			if created {
				record = &itemRecord{ID: id, CreatedAt: now}
			}
			record.apply(item)
			record.UpdatedAt = now

			if created {
				_, err = tx.NewInsert().Model(record).Exec(ctx)
			} else {
				_, err = tx.NewUpdate().Model(record).Where("id = ?", record.ID).Exec(ctx)
			}
			if err != nil {
				return fmt.Errorf("sqlstore: upsert item %s: %w", id, err)
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

func (s *ItemStore) Get(ctx context.Context, id string) (core.ItemDetail, error) {
	if s == nil || s.repo == nil {
		return core.ItemDetail{}, fmt.Errorf("sqlstore: item store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.ItemDetail{}, fmt.Errorf("sqlstore: item id is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("id", "=", id),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.ItemDetail{}, err
	}
	if len(records) == 0 {
		return core.ItemDetail{}, fmt.Errorf("%w: %s", core.ErrItemNotFound, id)
	}
	return records[0].toDomain(), nil
}

func (s *ItemStore) ListByUser(ctx context.Context, userID int64) ([]core.ItemDetail, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: item store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", userID),
		repository.OrderBy("id ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.ItemDetail, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func findItemTx(ctx context.Context, tx bun.Tx, id string) (*itemRecord, error) {
	record := &itemRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
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

var _ ItemReader = (*ItemStore)(nil)
