// Package cart exposes the customer's ephemeral cart priced against the
// catalog.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/quickoh/relay/internal/durable"
	"github.com/quickoh/relay/internal/ephemeral"
	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrNotInCart       = errors.New("product is not in the cart")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

type Line struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Discount  decimal.Decimal `json:"discount"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type Info struct {
	Items []Line          `json:"items"`
	Total decimal.Decimal `json:"total"`
}

type Service struct {
	live    *ephemeral.Store
	catalog durable.ProductCatalog
}

func NewService(live *ephemeral.Store, catalog durable.ProductCatalog) *Service {
	return &Service{live: live, catalog: catalog}
}

func (s *Service) exists(ctx context.Context, productID string) error {
	products, err := s.catalog.ProductsByIDs(ctx, []string{productID})
	if err != nil {
		return fmt.Errorf("failed to load product: %w", err)
	}
	if _, ok := products[productID]; !ok {
		return ErrProductNotFound
	}
	return nil
}

// Add puts quantity more of a product in the cart and returns the new quantity.
func (s *Service) Add(ctx context.Context, customerID, productID string, quantity int64) (int64, error) {
	if quantity < 1 {
		return 0, ErrInvalidQuantity
	}
	if err := s.exists(ctx, productID); err != nil {
		return 0, err
	}
	return s.live.SetCart(ctx, customerID, productID, quantity)
}

// Reduce takes one unit out. The line disappears at zero.
func (s *Service) Reduce(ctx context.Context, customerID, productID string) (int64, error) {
	cart, err := s.live.GetCart(ctx, customerID)
	if err != nil {
		return 0, err
	}
	if _, ok := cart[productID]; !ok {
		return 0, ErrNotInCart
	}
	return s.live.SetCart(ctx, customerID, productID, -1)
}

func (s *Service) Remove(ctx context.Context, customerID, productID string) error {
	cart, err := s.live.GetCart(ctx, customerID)
	if err != nil {
		return err
	}
	if _, ok := cart[productID]; !ok {
		return ErrNotInCart
	}
	return s.live.RemoveCartItem(ctx, customerID, productID)
}

func (s *Service) Clear(ctx context.Context, customerID string) error {
	return s.live.ClearCart(ctx, customerID)
}

// Info prices the cart with current catalog prices. Products that left the
// catalog are skipped.
func (s *Service) Info(ctx context.Context, customerID string) (Info, error) {
	cart, err := s.live.GetCart(ctx, customerID)
	if err != nil {
		return Info{}, err
	}
	info := Info{Items: []Line{}, Total: decimal.Zero}
	if len(cart) == 0 {
		return info, nil
	}

	ids := make([]string, 0, len(cart))
	for id := range cart {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	products, err := s.catalog.ProductsByIDs(ctx, ids)
	if err != nil {
		return Info{}, fmt.Errorf("failed to load products: %w", err)
	}

	for _, id := range ids {
		p, ok := products[id]
		if !ok {
			continue
		}
		unit := p.UnitPrice()
		subtotal := unit.Mul(decimal.NewFromInt(cart[id]))
		info.Items = append(info.Items, Line{
			ProductID: id,
			Name:      p.Name,
			Quantity:  cart[id],
			Price:     p.Price,
			Discount:  p.Discount,
			UnitPrice: unit.Round(2),
			Subtotal:  subtotal.Round(2),
		})
		info.Total = info.Total.Add(subtotal)
	}
	info.Total = info.Total.Round(2)
	return info, nil
}
