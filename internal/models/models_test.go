package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestOrderStatus(t *testing.T) {
	tests := []struct {
		status   OrderStatus
		valid    bool
		terminal bool
		active   bool
	}{
		{StatusPending, true, false, true},
		{StatusAssigned, true, false, false},
		{StatusProcessing, true, false, true},
		{StatusShipped, true, false, false},
		{StatusDelivered, true, true, false},
		{StatusCancelled, true, true, false},
		{"Accepted", false, false, false},
		{"", false, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
			if got := tt.status.IsActive(); got != tt.active {
				t.Errorf("IsActive() = %v, want %v", got, tt.active)
			}
		})
	}
}

func TestProductUnitPrice(t *testing.T) {
	tests := []struct {
		name     string
		price    string
		discount string
		want     string
	}{
		{"no discount", "40", "0", "40"},
		{"ten percent", "40", "10", "36"},
		{"fractional", "19.99", "15", "16.9915"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Product{Price: decimal.RequireFromString(tt.price), Discount: decimal.RequireFromString(tt.discount)}
			if got := p.UnitPrice(); !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("UnitPrice() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAmountsEncodeAsNumbers(t *testing.T) {
	lat, lng := 18.52, 73.85
	order := Order{
		ID:              "ord-1",
		Items:           []OrderItem{{ProductID: "apple", Quantity: 2, Price: decimal.RequireFromString("60.25"), Discount: decimal.Zero}},
		ShippingAddress: ShippingAddress{Address: "1 Main, Pune", Latitude: &lat, Longitude: &lng},
		TotalAmount:     decimal.RequireFromString("120.5"),
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
	}
	data, err := json.Marshal(order)
	if err != nil {
		t.Fatal(err)
	}
	var wire map[string]interface{}
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatal(err)
	}
	if total, ok := wire["totalAmount"].(float64); !ok || total != 120.5 {
		t.Errorf("totalAmount = %#v, want number 120.5", wire["totalAmount"])
	}
	address, _ := wire["shippingAddress"].(map[string]interface{})
	if address["latitude"] != 18.52 || address["longitude"] != 73.85 || address["address"] != "1 Main, Pune" {
		t.Errorf("shippingAddress = %#v", address)
	}
	if wire["paymentStatus"] != "Pending" {
		t.Errorf("paymentStatus = %#v, want Pending", wire["paymentStatus"])
	}

	var back Order
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if !back.TotalAmount.Equal(order.TotalAmount) {
		t.Errorf("TotalAmount = %s, want %s", back.TotalAmount, order.TotalAmount)
	}
}
