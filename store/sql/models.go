package sqlstore

import (
	"time"

	"github.com/juanbarco92/delta/core"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type userRecord struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID                int64     `bun:"id,pk,autoincrement"`
	Email             string    `bun:"email,notnull"`
	MarketplaceUserID int64     `bun:"marketplace_user_id,notnull"`
	Active            bool      `bun:"active,notnull"`
	CreatedAt         time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// credentialRecord holds one credential per user. Payload is the encoded
// credential, sealed when the store has a secret provider.
type credentialRecord struct {
	bun.BaseModel `bun:"table:credentials,alias:cr"`

	ID        string     `bun:"id,pk"`
	UserID    int64      `bun:"user_id,notnull"`
	Payload   []byte     `bun:"payload,notnull"`
	Sealed    bool       `bun:"sealed,notnull"`
	KeyID     string     `bun:"key_id,notnull"`
	ExpiresAt *time.Time `bun:"expires_at,nullzero"`
	CreatedAt time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type itemRecord struct {
	bun.BaseModel `bun:"table:items,alias:it"`

	ID              string          `bun:"id,pk"`
	UserID          int64           `bun:"user_id,notnull"`
	Title           string          `bun:"title,notnull"`
	Price           decimal.Decimal `bun:"price,notnull"`
	Permalink       string          `bun:"permalink,notnull"`
	Thumbnail       string          `bun:"thumbnail,notnull"`
	Status          string          `bun:"status,notnull"`
	OfficialStoreID *int64          `bun:"official_store_id"`
	Dimensions      *string         `bun:"dimensions"`
	CreatedAt       time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time       `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newUserRecord(user core.User, now time.Time) *userRecord {
	return &userRecord{
		Email:             user.Email,
		MarketplaceUserID: user.MarketplaceUserID,
		Active:            user.Active,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (r *userRecord) toDomain() core.User {
	if r == nil {
		return core.User{}
	}
	return core.User{
		ID:                r.ID,
		Email:             r.Email,
		MarketplaceUserID: r.MarketplaceUserID,
		Active:            r.Active,
		CreatedAt:         r.CreatedAt.UTC(),
	}
}

func (r *itemRecord) apply(item core.ItemDetail) {
	r.UserID = item.UserID
	r.Title = item.Title
	r.Price = item.Price
	r.Permalink = item.Permalink
	r.Thumbnail = item.Thumbnail
	r.Status = item.Status
	r.OfficialStoreID = copyInt64Pointer(item.OfficialStoreID)
	r.Dimensions = copyStringPointer(item.Dimensions)
}

func (r *itemRecord) toDomain() core.ItemDetail {
	if r == nil {
		return core.ItemDetail{}
	}
	return core.ItemDetail{
		ID:              r.ID,
		UserID:          r.UserID,
		Title:           r.Title,
		Price:           r.Price,
		Permalink:       r.Permalink,
		Thumbnail:       r.Thumbnail,
		Status:          r.Status,
		OfficialStoreID: copyInt64Pointer(r.OfficialStoreID),
		Dimensions:      copyStringPointer(r.Dimensions),
	}
}

func copyInt64Pointer(input *int64) *int64 {
	if input == nil {
		return nil
	}
	value := *input
	return &value
}

func copyStringPointer(input *string) *string {
	if input == nil {
		return nil
	}
	value := *input
	return &value
}
