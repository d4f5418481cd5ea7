package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Credential is the bearer/refresh token pair issued by the authorization
// server together with its absolute expiry.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	TokenType    string
	Scope        string
	UserID       string
}

// Expired reports whether the credential is inside the refresh margin.
// A credential is due when now >= expires_at - margin.
func (c Credential) Expired(now time.Time, margin time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	return !now.Before(c.ExpiresAt.Add(-margin))
}

func (c Credential) Valid() bool {
	return strings.TrimSpace(c.AccessToken) != "" && strings.TrimSpace(c.RefreshToken) != ""
}

type SellerIdentity struct {
	ID       int64
	Nickname string
}

type Order struct {
	ID          int64
	ShippingID  string
	Status      string
	DateCreated time.Time
	LineItems   []LineItem
}

// OrderSearch is one page of order search results. Malformed holds the
// entries that could not be decoded, in response order.
type OrderSearch struct {
	Orders    []Order
	Malformed []*DataError
}

func (o Order) HasShipment() bool {
	return strings.TrimSpace(o.ShippingID) != ""
}

type LineItem struct {
	ItemID    string
	Title     string
	SKU       string
	Quantity  int
	UnitPrice decimal.Decimal
}

type ShipmentStatus string

const (
	ShipmentStatusPending      ShipmentStatus = "pending"
	ShipmentStatusHandling     ShipmentStatus = "handling"
	ShipmentStatusReadyToShip  ShipmentStatus = "ready_to_ship"
	ShipmentStatusShipped      ShipmentStatus = "shipped"
	ShipmentStatusDelivered    ShipmentStatus = "delivered"
	ShipmentStatusNotDelivered ShipmentStatus = "not_delivered"
	ShipmentStatusCancelled    ShipmentStatus = "cancelled"
)

type Shipment struct {
	ID         string
	Status     ShipmentStatus
	BilledCost decimal.Decimal
	Mode       string
	Dimensions *PackageDimensions
}

// PackageDimensions is the package size the marketplace measured for a
// shipment, in centimetres and grams.
type PackageDimensions struct {
	Height  decimal.Decimal
	Width   decimal.Decimal
	Length  decimal.Decimal
	WeightG decimal.Decimal
}

type TruthRecord struct {
	SKU      string
	WeightKG decimal.Decimal
	Width    decimal.Decimal
	Height   decimal.Decimal
	Depth    decimal.Decimal
}

// Volume renders the dimensions as "WxHxD".
func (r TruthRecord) Volume() string {
	return r.Width.String() + "x" + r.Height.String() + "x" + r.Depth.String()
}

const DiscrepancyUnestimated = "unestimated"

// DiscrepancyEstimate is the cost model output. The zero value is
// "unestimated".
type DiscrepancyEstimate struct {
	Amount    decimal.Decimal
	Estimated bool
}

func Unestimated() DiscrepancyEstimate {
	return DiscrepancyEstimate{}
}

func EstimatedDiscrepancy(amount decimal.Decimal) DiscrepancyEstimate {
	return DiscrepancyEstimate{Amount: amount, Estimated: true}
}

func (d DiscrepancyEstimate) String() string {
	if !d.Estimated {
		return DiscrepancyUnestimated
	}
	return d.Amount.String()
}

// AuditRecord is one line of the audit report: an order line item joined
// with its shipment and its truth record.
type AuditRecord struct {
	OrderID        int64
	ShipmentID     string
	SKU            string
	Quantity       int
	BilledCost     decimal.Decimal
	TruthWeight    decimal.Decimal
	TruthVolume    string
	ShipmentStatus ShipmentStatus
	Discrepancy    DiscrepancyEstimate
}

// ItemDetail is a listing as returned by the multiget endpoint, reduced to
// the fields the item catalog keeps.
type ItemDetail struct {
	ID              string
	UserID          int64
	Title           string
	Price           decimal.Decimal
	Permalink       string
	Thumbnail       string
	Status          string
	OfficialStoreID *int64
	Dimensions      *string
}

type User struct {
	ID                int64
	Email             string
	MarketplaceUserID int64
	Active            bool
	CreatedAt         time.Time
}
