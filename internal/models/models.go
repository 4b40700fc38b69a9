package models

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// amounts go over the wire as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true
}

type Role string

const (
	RoleCustomer        Role = "customer"
	RoleDeliveryPartner Role = "deliveryPartner"
	RoleAdmin           Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleDeliveryPartner, RoleAdmin:
		return true
	}
	return false
}

type OrderStatus string

const (
	StatusPending    OrderStatus = "Pending"
	StatusAssigned   OrderStatus = "Assigned"
	StatusProcessing OrderStatus = "Processing"
	StatusShipped    OrderStatus = "Shipped"
	StatusDelivered  OrderStatus = "Delivered"
	StatusCancelled  OrderStatus = "Cancelled"
)

var AllStatuses = []OrderStatus{
	StatusPending,
	StatusAssigned,
	StatusProcessing,
	StatusShipped,
	StatusDelivered,
	StatusCancelled,
}

func (s OrderStatus) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further live tracking happens for the order.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// IsActive reports whether the order still waits for or is in fulfilment.
func (s OrderStatus) IsActive() bool {
	return s == StatusPending || s == StatusProcessing
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "Pending"
	PaymentCompleted PaymentStatus = "Completed"
	PaymentFailed    PaymentStatus = "Failed"
)

// ShippingAddress is where the order goes. Partners route to the coordinates.
type ShippingAddress struct {
	Address   string   `json:"address" validate:"required,max=512"`
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
}

type OrderItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Discount  decimal.Decimal `json:"discount"`
}

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	Items           []OrderItem     `json:"items"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	Status          OrderStatus     `json:"status"`
	PaymentStatus   PaymentStatus   `json:"paymentStatus"`
	AssignedTo      string          `json:"assignedTo,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type Partner struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	IsAvailable bool   `json:"isAvailable"`
}

type Product struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Discount decimal.Decimal `json:"discount"` // percent
	Stock    int64           `json:"stock"`
}

// UnitPrice applies the percentage discount to the list price.
func (p Product) UnitPrice() decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	return p.Price.Mul(hundred.Sub(p.Discount)).Div(hundred)
}
