package durable

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMemStore_LoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	body := `{
		"products": [{"id": "apple", "name": "Apple", "price": "120.50", "discount": "10", "stock": 5}],
		"partners": [{"id": "p1", "name": "Ravi", "isAvailable": true}, {"id": "p2", "isAvailable": false}]
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	s := NewMemStore(nil)
	seed, err := s.LoadSeedFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(seed.Products) != 1 || len(seed.Partners) != 2 {
		t.Fatalf("unexpected seed %+v", seed)
	}

	products, _ := s.ProductsByIDs(context.Background(), []string{"apple"})
	if !products["apple"].Price.Equal(decimal.RequireFromString("120.5")) {
		t.Errorf("price = %s, want 120.5", products["apple"].Price)
	}
	partners, _ := s.AvailablePartners(context.Background())
	if len(partners) != 1 || partners[0].ID != "p1" {
		t.Errorf("AvailablePartners() = %v, want p1", partners)
	}
}

func TestMemStore_LoadSeedFileErrors(t *testing.T) {
	s := NewMemStore(nil)
	if _, err := s.LoadSeedFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte(`{"products":`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadSeedFile(path); err == nil {
		t.Error("expected error for broken json")
	}
}
