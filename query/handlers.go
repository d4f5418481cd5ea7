package query

import (
	"context"
	"strings"

	"github.com/juanbarco92/delta/core"
)

// AuthorizationURLBuilder renders the consent URL the operator opens to
// obtain an authorization code.
type AuthorizationURLBuilder interface {
	AuthorizationURL() string
}

type ItemReader interface {
	Get(ctx context.Context, id string) (core.ItemDetail, error)
}

type UserItemLister interface {
	ListByUser(ctx context.Context, userID int64) ([]core.ItemDetail, error)
}

type AuthorizationURLQuery struct {
	builder AuthorizationURLBuilder
}

func NewAuthorizationURLQuery(builder AuthorizationURLBuilder) *AuthorizationURLQuery {
	return &AuthorizationURLQuery{builder: builder}
}

func (q *AuthorizationURLQuery) Query(_ context.Context, msg AuthorizationURLMessage) (string, error) {
	if q == nil || q.builder == nil {
		return "", core.MissingDependency("query: authorization url builder is required")
	}
	if err := msg.Validate(); err != nil {
		return "", err
	}
	return q.builder.AuthorizationURL(), nil
}

type GetItemQuery struct {
	reader ItemReader
}

func NewGetItemQuery(reader ItemReader) *GetItemQuery {
	return &GetItemQuery{reader: reader}
}

func (q *GetItemQuery) Query(ctx context.Context, msg GetItemMessage) (core.ItemDetail, error) {
	if q == nil || q.reader == nil {
		return core.ItemDetail{}, core.MissingDependency("query: item reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.ItemDetail{}, err
	}
	return q.reader.Get(ctx, strings.TrimSpace(msg.ItemID))
}

type ListUserItemsQuery struct {
	lister UserItemLister
}

func NewListUserItemsQuery(lister UserItemLister) *ListUserItemsQuery {
	return &ListUserItemsQuery{lister: lister}
}

func (q *ListUserItemsQuery) Query(ctx context.Context, msg ListUserItemsMessage) ([]core.ItemDetail, error) {
	if q == nil || q.lister == nil {
		return nil, core.MissingDependency("query: item lister is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.lister.ListByUser(ctx, msg.UserID)
}
