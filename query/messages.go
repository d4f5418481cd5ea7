// Package query exposes the read-only delta operations as go-command queriers.
package query

import (
	"strings"

	"github.com/juanbarco92/delta/core"
)

const (
	TypeAuthorizationURL = "delta.query.auth.authorization_url"
	TypeGetItem          = "delta.query.items.get"
	TypeListUserItems    = "delta.query.items.list_by_user"
)

type AuthorizationURLMessage struct{}

func (AuthorizationURLMessage) Type() string { return TypeAuthorizationURL }

func (AuthorizationURLMessage) Validate() error { return nil }

type GetItemMessage struct {
	ItemID string
}

func (GetItemMessage) Type() string { return TypeGetItem }

func (m GetItemMessage) Validate() error {
	if strings.TrimSpace(m.ItemID) == "" {
		return core.FieldError("query", "item_id", "item id is required")
	}
	return nil
}

type ListUserItemsMessage struct {
	UserID int64
}

func (ListUserItemsMessage) Type() string { return TypeListUserItems }

func (m ListUserItemsMessage) Validate() error {
	if m.UserID <= 0 {
		return core.FieldError("query", "user_id", "user id is required")
	}
	return nil
}
