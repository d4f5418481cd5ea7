package query

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/juanbarco92/delta/core"
	"github.com/shopspring/decimal"
)

func TestAuthorizationURLQuery_QueryDelegates(t *testing.T) {
	qry := NewAuthorizationURLQuery(stubURLBuilder("https://auth.example/authorization?client_id=app"))
	url, err := qry.Query(context.Background(), AuthorizationURLMessage{})
	if err != nil {
		t.Fatalf("query authorization url: %v", err)
	}
	if url != "https://auth.example/authorization?client_id=app" {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestGetItemQuery_QueryDelegates(t *testing.T) {
	expected := core.ItemDetail{ID: "MLA1", UserID: 4, Title: "Mug", Price: decimal.RequireFromString("12.50")}
	called := false
	reader := stubItemReader{getFn: func(_ context.Context, id string) (core.ItemDetail, error) {
		called = true
		if id != "MLA1" {
			t.Fatalf("expected trimmed id, got %q", id)
		}
		return expected, nil
	}}

	item, err := NewGetItemQuery(reader).Query(context.Background(), GetItemMessage{ItemID: " MLA1 "})
	if err != nil {
		t.Fatalf("query item: %v", err)
	}
	if !called {
		t.Fatalf("expected item reader invocation")
	}
	if item.Title != "Mug" || !item.Price.Equal(expected.Price) {
		t.Fatalf("unexpected item %#v", item)
	}
}

func TestGetItemQuery_PropagatesNotFound(t *testing.T) {
	reader := stubItemReader{getFn: func(_ context.Context, id string) (core.ItemDetail, error) {
		return core.ItemDetail{}, fmt.Errorf("sqlstore: item %s: %w", id, core.ErrItemNotFound)
	}}
	_, err := NewGetItemQuery(reader).Query(context.Background(), GetItemMessage{ItemID: "MLA404"})
	if !errors.Is(err, core.ErrItemNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListUserItemsQuery_QueryDelegates(t *testing.T) {
	lister := stubItemLister{listFn: func(_ context.Context, userID int64) ([]core.ItemDetail, error) {
		if userID != 4 {
			t.Fatalf("unexpected user id %d", userID)
		}
		return []core.ItemDetail{{ID: "MLA1"}, {ID: "MLA2"}}, nil
	}}
	items, err := NewListUserItemsQuery(lister).Query(context.Background(), ListUserItemsMessage{UserID: 4})
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if _, err := NewListUserItemsQuery(lister).Query(context.Background(), ListUserItemsMessage{}); err == nil {
		t.Fatalf("expected missing user id to fail validation")
	}
}

type stubURLBuilder string

func (s stubURLBuilder) AuthorizationURL() string { return string(s) }

type stubItemReader struct {
	getFn func(ctx context.Context, id string) (core.ItemDetail, error)
}

func (s stubItemReader) Get(ctx context.Context, id string) (core.ItemDetail, error) {
	return s.getFn(ctx, id)
}

type stubItemLister struct {
	listFn func(ctx context.Context, userID int64) ([]core.ItemDetail, error)
}

func (s stubItemLister) ListByUser(ctx context.Context, userID int64) ([]core.ItemDetail, error) {
	return s.listFn(ctx, userID)
}

func TestQueries_MissingCollaboratorIsInternal(t *testing.T) {
	ctx := context.Background()
	_, urlErr := (*AuthorizationURLQuery)(nil).Query(ctx, AuthorizationURLMessage{})
	_, itemErr := (*GetItemQuery)(nil).Query(ctx, GetItemMessage{ItemID: "MLA1"})
	_, listErr := (*ListUserItemsQuery)(nil).Query(ctx, ListUserItemsMessage{UserID: 4})
	for _, err := range []error{urlErr, itemErr, listErr} {
		if mapped := core.MapError(err); mapped == nil || mapped.TextCode != core.ErrorInternal {
			t.Fatalf("expected internal envelope, got %v", err)
		}
	}
}

func TestGetItemMessage_ValidateIsBadInput(t *testing.T) {
	if mapped := core.MapError((GetItemMessage{ItemID: " "}).Validate()); mapped == nil || mapped.TextCode != core.ErrorBadInput {
		t.Fatalf("expected bad input, got %v", mapped)
	}
}
