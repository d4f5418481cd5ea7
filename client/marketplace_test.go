package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/juanbarco92/delta/core"
)

func newMarketplaceServer(t *testing.T, routes map[string]string) (*Marketplace, *[]string) {
	t.Helper()
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.URL.RequestURI())
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	c, err := New(core.APIConfig{BaseURL: server.URL}, &staticTokens{token: "tok"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return NewMarketplace(c), &seen
}

func TestMarketplaceMe(t *testing.T) {
	market, _ := newMarketplaceServer(t, map[string]string{"/users/me": `{"id":123456,"nickname":"SHOP"}`})

	me, err := market.Me(context.Background())
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if me.ID != 123456 || me.Nickname != "SHOP" {
		t.Fatalf("unexpected identity %+v", me)
	}
}

func TestMarketplaceMeRequiresID(t *testing.T) {
	market, _ := newMarketplaceServer(t, map[string]string{"/users/me": `{"nickname":"SHOP"}`})

	if _, err := market.Me(context.Background()); err == nil {
		t.Fatalf("expected missing id to fail")
	}
}

func TestMarketplaceSearchOrders(t *testing.T) {
	market, seen := newMarketplaceServer(t, map[string]string{
		"/orders/search": `{"results":[
			{"id":2000001,"status":"paid","date_created":"2026-01-02T10:00:00.000-04:00",
			 "shipping":{"id":4000001},
			 "order_items":[{"item":{"id":"MLA1","title":"Mug","seller_sku":123},"quantity":2,"unit_price":10.5}]},
			{"id":2000002,"status":"paid","shipping":{"id":null},"order_items":[]}
		]}`,
	})

	search, err := market.SearchOrders(context.Background(), 99, 0)
	if err != nil {
		t.Fatalf("search orders: %v", err)
	}
	orders := search.Orders
	if len(search.Malformed) != 0 {
		t.Fatalf("unexpected malformed entries %v", search.Malformed)
	}
	if !strings.Contains((*seen)[0], "seller=99") || !strings.Contains((*seen)[0], "sort=date_desc") || !strings.Contains((*seen)[0], "limit=50") {
		t.Fatalf("unexpected request %s", (*seen)[0])
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	first := orders[0]
	if first.ID != 2000001 || first.ShippingID != "4000001" || !first.HasShipment() {
		t.Fatalf("unexpected order %+v", first)
	}
	if first.DateCreated.IsZero() {
		t.Fatalf("expected creation date to parse")
	}
	line := first.LineItems[0]
	if line.SKU != "123" || line.Quantity != 2 || line.UnitPrice.String() != "10.5" {
		t.Fatalf("unexpected line item %+v", line)
	}
	if orders[1].HasShipment() {
		t.Fatalf("expected null shipping id to mean no shipment")
	}
}

func TestMarketplaceSearchOrdersKeepsDecodableOrders(t *testing.T) {
	market, _ := newMarketplaceServer(t, map[string]string{
		"/orders/search": `{"results":[
			{"id":1001,"shipping":{"id":"S1"},"order_items":[{"item":{"seller_sku":"X1"},"quantity":2}]},
			{"shipping":{"id":"S2"},"order_items":[{"item":{"seller_sku":"X1"},"quantity":"two"}]},
			{"status":"paid"}
		]}`,
	})

	search, err := market.SearchOrders(context.Background(), 99, 10)
	if err != nil {
		t.Fatalf("search orders: %v", err)
	}
	if len(search.Orders) != 1 || search.Orders[0].ID != 1001 {
		t.Fatalf("expected order 1001 to survive, got %+v", search.Orders)
	}
	if len(search.Malformed) != 2 {
		t.Fatalf("expected two malformed entries, got %v", search.Malformed)
	}
	if search.Malformed[0].Field != "results[1]" || search.Malformed[1].Field != "results[2]" {
		t.Fatalf("unexpected malformed positions %v", search.Malformed)
	}
}

func TestMarketplaceShipmentDimensions(t *testing.T) {
	market, _ := newMarketplaceServer(t, map[string]string{
		"/shipments/S1": `{"id":"S1","dimensions":"10.0x20x30,500"}`,
		"/shipments/S2": `{"id":"S2","shipping_items":[{"dimensions":{"height":5,"width":6,"length":7,"weight":800}}]}`,
		"/shipments/S3": `{"id":"S3"}`,
		"/shipments/S4": `{"id":"S4","dimensions":"10x20,500"}`,
		"/shipments/S5": `{"id":"S5","dimensions":{"height":5,"width":6}}`,
		"/shipments/S6": `{"id":"S6","dimensions":null,"shipping_items":[]}`,
	})

	s1, err := market.Shipment(context.Background(), "S1")
	if err != nil {
		t.Fatalf("shipment: %v", err)
	}
	if s1.Dimensions == nil || s1.Dimensions.Height.String() != "10" || s1.Dimensions.Width.String() != "20" ||
		s1.Dimensions.Length.String() != "30" || s1.Dimensions.WeightG.String() != "500" {
		t.Fatalf("unexpected dimensions %+v", s1.Dimensions)
	}
	s2, err := market.Shipment(context.Background(), "S2")
	if err != nil {
		t.Fatalf("shipment: %v", err)
	}
	if s2.Dimensions == nil || s2.Dimensions.Length.String() != "7" || s2.Dimensions.WeightG.String() != "800" {
		t.Fatalf("expected nested shipping item dimensions, got %+v", s2.Dimensions)
	}
	for _, id := range []string{"S3", "S4", "S5", "S6"} {
		shipment, err := market.Shipment(context.Background(), id)
		if err != nil {
			t.Fatalf("shipment %s: %v", id, err)
		}
		if shipment.Dimensions != nil {
			t.Fatalf("expected %s dimensions to be absent, got %+v", id, shipment.Dimensions)
		}
	}
}

func TestMarketplaceShipmentDefaultsBilledCost(t *testing.T) {
	market, _ := newMarketplaceServer(t, map[string]string{
		"/shipments/S1": `{"id":"S1","status":"delivered","base_cost":5.0}`,
		"/shipments/S2": `{"id":"S2","status":"shipped"}`,
	})

	s1, err := market.Shipment(context.Background(), "S1")
	if err != nil {
		t.Fatalf("shipment: %v", err)
	}
	if s1.Status != core.ShipmentStatus("delivered") || s1.BilledCost.String() != "5" {
		t.Fatalf("unexpected shipment %+v", s1)
	}
	s2, err := market.Shipment(context.Background(), "S2")
	if err != nil {
		t.Fatalf("shipment: %v", err)
	}
	if !s2.BilledCost.IsZero() {
		t.Fatalf("expected missing base_cost to bill zero, got %s", s2.BilledCost)
	}
	if _, err := market.Shipment(context.Background(), "missing"); !func() bool {
		upstream, ok := core.AsUpstreamError(err)
		return ok && upstream.NotFound()
	}() {
		t.Fatalf("expected not found upstream error, got %v", err)
	}
}

func TestMarketplaceItemsMapsDetails(t *testing.T) {
	market, seen := newMarketplaceServer(t, map[string]string{
		"/users/7/items/search": `{"results":["MLA1","MLA2","MLA3"],"paging":{"total":3,"offset":0,"limit":50}}`,
		"/items": `[
			{"code":200,"body":{"id":"MLA1","title":"Mug","price":1500,"status":"active","official_store_id":null,"shipping":{"dimensions":"10x10x10,500"}}},
			{"code":200,"body":{"id":"MLA2","title":"Cup","price":"99.90","status":"paused","official_store_id":12,"shipping":null}},
			{"code":404,"body":{"id":"MLA3","message":"not found"}}
		]`,
	})

	ids, err := market.ListItemIDs(context.Background(), 7, 50)
	if err != nil {
		t.Fatalf("list ids: %v", err)
	}
	if !strings.Contains((*seen)[0], "search_type=scan") {
		t.Fatalf("expected scan search, got %s", (*seen)[0])
	}
	if strings.Join(ids, ",") != "MLA1,MLA2,MLA3" {
		t.Fatalf("unexpected ids %v", ids)
	}
	items, err := market.Items(context.Background(), ids, 20)
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected failed entry to be dropped, got %d items", len(items))
	}
	if items[0].Dimensions == nil || *items[0].Dimensions != "10x10x10,500" || items[0].OfficialStoreID != nil {
		t.Fatalf("unexpected first item %+v", items[0])
	}
	if items[1].Dimensions != nil || items[1].OfficialStoreID == nil || *items[1].OfficialStoreID != 12 {
		t.Fatalf("unexpected second item %+v", items[1])
	}
	if items[1].Price.String() != "99.9" {
		t.Fatalf("unexpected price %s", items[1].Price)
	}
}

func TestShippingDimensionsFailsClosed(t *testing.T) {
	cases := map[string]bool{
		`{"dimensions":"1x2x3,4"}`: true,
		`{"dimensions":""}`:        false,
		`{"dimensions":12}`:        false,
		`{}`:                       false,
		`"free"`:                   false,
		`null`:                     false,
		``:                         false,
	}
	for raw, present := range cases {
		got := shippingDimensions([]byte(raw))
		if (got != nil) != present {
			t.Fatalf("%q: expected present=%v, got %v", raw, present, got)
		}
	}
}

func TestCoerceString(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{in: nil, want: ""},
		{in: " S1 ", want: "S1"},
		{in: float64(123), want: "123"},
		{in: 123.5, want: "123.5"},
	}
	for _, tc := range cases {
		if got := coerceString(tc.in); got != tc.want {
			t.Fatalf("coerceString(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
