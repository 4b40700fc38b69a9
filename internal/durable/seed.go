package durable

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"
	"github.com/quickoh/relay/internal/models"
)

// Seed is the catalog and partner roster a MemStore starts with.
type Seed struct {
	Products []models.Product `json:"products"`
	Partners []models.Partner `json:"partners"`
}

func (s *MemStore) Load(seed Seed) {
	for _, p := range seed.Products {
		s.PutProduct(p)
	}
	for _, p := range seed.Partners {
		s.PutPartner(p)
	}
}

// LoadSeedFile reads a JSON Seed from path into the store.
func (s *MemStore) LoadSeedFile(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("failed to read seed: %w", err)
	}
	var seed Seed
	if err := sonic.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("failed to parse seed %s: %w", path, err)
	}
	s.Load(seed)
	return seed, nil
}
