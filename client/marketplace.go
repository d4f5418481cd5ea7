package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/juanbarco92/delta/core"
	"github.com/shopspring/decimal"
)

const (
	pathMe           = "/users/me"
	pathOrdersSearch = "/orders/search"
	pathShipments    = "/shipments/"
	pathItems        = "/items"
)

// Marketplace exposes the typed endpoints the auditor and the item sync
// consume.
type Marketplace struct {
	client *Client
}

func NewMarketplace(client *Client) *Marketplace {
	return &Marketplace{client: client}
}

func (m *Marketplace) Client() *Client {
	if m == nil {
		return nil
	}
	return m.client
}

type identityPayload struct {
	ID       *int64 `json:"id"`
	Nickname string `json:"nickname"`
}

func (m *Marketplace) Me(ctx context.Context) (core.SellerIdentity, error) {
	var payload identityPayload
	if err := m.client.CallJSON(ctx, http.MethodGet, pathMe, nil, nil, &payload); err != nil {
		return core.SellerIdentity{}, err
	}
	if payload.ID == nil {
		return core.SellerIdentity{}, core.NewDataError("id", "missing from %s response", pathMe)
	}
	return core.SellerIdentity{ID: *payload.ID, Nickname: strings.TrimSpace(payload.Nickname)}, nil
}

type orderPayload struct {
	ID          *int64 `json:"id"`
	Status      string `json:"status"`
	DateCreated string `json:"date_created"`
	Shipping    *struct {
		ID flexString `json:"id"`
	} `json:"shipping"`
	OrderItems []struct {
		Item struct {
			ID        flexString `json:"id"`
			Title     string     `json:"title"`
			SellerSKU flexString `json:"seller_sku"`
		} `json:"item"`
		Quantity  int                 `json:"quantity"`
		UnitPrice decimal.NullDecimal `json:"unit_price"`
	} `json:"order_items"`
}

// SearchOrders returns the seller's most recent orders, newest first.
// Entries that fail to decode are reported in Malformed and do not fail
// the call.
func (m *Marketplace) SearchOrders(ctx context.Context, sellerID int64, limit int) (core.OrderSearch, error) {
	if limit <= 0 {
		limit = core.DefaultOrderLimit
	}
	query := url.Values{}
	query.Set("seller", strconv.FormatInt(sellerID, 10))
	query.Set("sort", "date_desc")
	query.Set("limit", itoa(limit))

	var envelope struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := m.client.CallJSON(ctx, http.MethodGet, pathOrdersSearch, query, nil, &envelope); err != nil {
		return core.OrderSearch{}, err
	}

	search := core.OrderSearch{Orders: make([]core.Order, 0, len(envelope.Results))}
	for index, raw := range envelope.Results {
		order, err := decodeOrder(raw)
		if err != nil {
			search.Malformed = append(search.Malformed, &core.DataError{
				Field:   fmt.Sprintf("results[%d]", index),
				Message: "decode order",
				Err:     err,
			})
			continue
		}
		search.Orders = append(search.Orders, order)
	}
	return search, nil
}

func decodeOrder(raw json.RawMessage) (core.Order, error) {
	var payload orderPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return core.Order{}, err
	}
	if payload.ID == nil {
		return core.Order{}, core.NewDataError("id", "order id is missing")
	}
	order := core.Order{
		ID:     *payload.ID,
		Status: strings.TrimSpace(payload.Status),
	}
	if created, err := time.Parse(time.RFC3339, strings.TrimSpace(payload.DateCreated)); err == nil {
		order.DateCreated = created.UTC()
	}
	if payload.Shipping != nil {
		order.ShippingID = string(payload.Shipping.ID)
	}
	for _, item := range payload.OrderItems {
		line := core.LineItem{
			ItemID:   string(item.Item.ID),
			Title:    strings.TrimSpace(item.Item.Title),
			SKU:      string(item.Item.SellerSKU),
			Quantity: item.Quantity,
		}
		if item.UnitPrice.Valid {
			line.UnitPrice = item.UnitPrice.Decimal
		}
		order.LineItems = append(order.LineItems, line)
	}
	return order, nil
}

type shipmentPayload struct {
	ID            flexString          `json:"id"`
	Status        string              `json:"status"`
	BaseCost      decimal.NullDecimal `json:"base_cost"`
	Mode          string              `json:"mode"`
	Dimensions    json.RawMessage     `json:"dimensions"`
	ShippingItems []struct {
		Dimensions json.RawMessage `json:"dimensions"`
	} `json:"shipping_items"`
}

// Shipment fetches one shipment. A missing base_cost is billed as zero.
func (m *Marketplace) Shipment(ctx context.Context, shipmentID string) (core.Shipment, error) {
	shipmentID = strings.TrimSpace(shipmentID)
	if shipmentID == "" {
		return core.Shipment{}, core.NewDataError("shipment_id", "is required")
	}
	var payload shipmentPayload
	if err := m.client.CallJSON(ctx, http.MethodGet, pathShipments+url.PathEscape(shipmentID), nil, nil, &payload); err != nil {
		return core.Shipment{}, err
	}
	shipment := core.Shipment{
		ID:         string(payload.ID),
		Status:     core.ShipmentStatus(strings.TrimSpace(payload.Status)),
		BilledCost: decimal.Zero,
		Mode:       strings.TrimSpace(payload.Mode),
		Dimensions: packageDimensions(payload.Dimensions),
	}
	if shipment.Dimensions == nil && len(payload.ShippingItems) > 0 {
		shipment.Dimensions = packageDimensions(payload.ShippingItems[0].Dimensions)
	}
	if shipment.ID == "" {
		shipment.ID = shipmentID
	}
	if payload.BaseCost.Valid {
		shipment.BilledCost = payload.BaseCost.Decimal
	}
	return shipment, nil
}

// packageDimensions parses "HxWxL,weight" or an object with height, width,
// length and weight. Anything it cannot read in full yields nil.
func packageDimensions(raw json.RawMessage) *core.PackageDimensions {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	switch raw[0] {
	case '"':
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil
		}
		return parseDimensionString(text)
	case '{':
		var object struct {
			Height decimal.NullDecimal `json:"height"`
			Width  decimal.NullDecimal `json:"width"`
			Length decimal.NullDecimal `json:"length"`
			Weight decimal.NullDecimal `json:"weight"`
		}
		if err := json.Unmarshal(raw, &object); err != nil {
			return nil
		}
		if !object.Height.Valid || !object.Width.Valid || !object.Length.Valid || !object.Weight.Valid {
			return nil
		}
		return &core.PackageDimensions{
			Height:  object.Height.Decimal,
			Width:   object.Width.Decimal,
			Length:  object.Length.Decimal,
			WeightG: object.Weight.Decimal,
		}
	default:
		return nil
	}
}

func parseDimensionString(text string) *core.PackageDimensions {
	size, weight, ok := strings.Cut(strings.TrimSpace(text), ",")
	if !ok {
		return nil
	}
	sides := strings.Split(size, "x")
	if len(sides) != 3 {
		return nil
	}
	values := make([]decimal.Decimal, 0, 4)
	for _, part := range append(sides, weight) {
		value, err := decimal.NewFromString(strings.TrimSpace(part))
		if err != nil || value.IsNegative() {
			return nil
		}
		values = append(values, value)
	}
	return &core.PackageDimensions{Height: values[0], Width: values[1], Length: values[2], WeightG: values[3]}
}

func (m *Marketplace) ListItemIDs(ctx context.Context, marketplaceUserID int64, pageSize int) ([]string, error) {
	path := "/users/" + strconv.FormatInt(marketplaceUserID, 10) + "/items/search"
	entries, err := m.client.ListAll(ctx, path, url.Values{"search_type": []string{"scan"}}, pageSize)
	ids := make([]string, 0, len(entries))
	for index, raw := range entries {
		var id flexString
		if decodeErr := json.Unmarshal(raw, &id); decodeErr != nil || id == "" {
			return ids, &core.DataError{Field: fmt.Sprintf("results[%d]", index), Message: "item id is not a scalar", Err: decodeErr}
		}
		ids = append(ids, string(id))
	}
	return ids, err
}

type itemPayload struct {
	ID              flexString          `json:"id"`
	Title           string              `json:"title"`
	Price           decimal.NullDecimal `json:"price"`
	Permalink       string              `json:"permalink"`
	Thumbnail       string              `json:"thumbnail"`
	Status          string              `json:"status"`
	OfficialStoreID *int64              `json:"official_store_id"`
	Shipping        json.RawMessage     `json:"shipping"`
}

// Items resolves listing ids into details via the multiget endpoint.
// Entries the API could not resolve are skipped.
func (m *Marketplace) Items(ctx context.Context, ids []string, chunkSize int) ([]core.ItemDetail, error) {
	bodies, err := m.client.FetchBatch(ctx, pathItems, ids, chunkSize)
	if err != nil {
		return nil, err
	}
	items := make([]core.ItemDetail, 0, len(bodies))
	for _, body := range bodies {
		item, decodeErr := decodeItem(body)
		if decodeErr != nil {
			return nil, decodeErr
		}
		items = append(items, item)
	}
	return items, nil
}

func decodeItem(raw json.RawMessage) (core.ItemDetail, error) {
	var payload itemPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return core.ItemDetail{}, &core.DataError{Field: "item", Message: "decode item", Err: err}
	}
	if payload.ID == "" {
		return core.ItemDetail{}, core.NewDataError("id", "item id is missing")
	}
	item := core.ItemDetail{
		ID:              string(payload.ID),
		Title:           strings.TrimSpace(payload.Title),
		Permalink:       strings.TrimSpace(payload.Permalink),
		Thumbnail:       strings.TrimSpace(payload.Thumbnail),
		Status:          strings.TrimSpace(payload.Status),
		OfficialStoreID: payload.OfficialStoreID,
		Dimensions:      shippingDimensions(payload.Shipping),
	}
	if payload.Price.Valid {
		item.Price = payload.Price.Decimal
	}
	return item, nil
}

// shippingDimensions reads shipping.dimensions when shipping is an object
// and dimensions a non-empty string; anything else yields nil.
func shippingDimensions(raw json.RawMessage) *string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var shipping map[string]json.RawMessage
	if err := json.Unmarshal(raw, &shipping); err != nil {
		return nil
	}
	var dimensions string
	if err := json.Unmarshal(shipping["dimensions"], &dimensions); err != nil {
		return nil
	}
	dimensions = strings.TrimSpace(dimensions)
	if dimensions == "" {
		return nil
	}
	return &dimensions
}

// flexString accepts JSON strings, numbers and null. Numbers keep their
// canonical decimal form, so 123 and 123.0 both become "123".
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(value))
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("client: expected string or number, got %s", data)
	}
	*f = flexString(coerceString(number))
	return nil
}

func coerceString(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		if parsed, err := decimal.NewFromString(typed.String()); err == nil {
			return parsed.String()
		}
		return typed.String()
	case float64:
		return decimal.NewFromFloat(typed).String()
	default:
		return strings.TrimSpace(fmt.Sprint(typed))
	}
}
