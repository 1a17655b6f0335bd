package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/voicelane/voicelane/pkg/core/types"
)

// MemoryRepository is an in-memory Repository used in tests and for running
// without a database.
type MemoryRepository struct {
	mu       sync.RWMutex
	stores   map[string]Store
	products map[string]Product
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		stores:   make(map[string]Store),
		products: make(map[string]Product),
	}
}

func (m *MemoryRepository) CreateStore(_ context.Context, s Store) (Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	m.stores[s.ID] = s
	return s, nil
}

func (m *MemoryRepository) GetStore(_ context.Context, id string) (Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stores[id]
	if !ok {
		return Store{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryRepository) ListStores(_ context.Context) ([]Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Store, 0, len(m.stores))
	for _, s := range m.stores {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) CreateProduct(_ context.Context, p Product) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stores[p.StoreID]; !ok {
		return Product{}, ErrNotFound
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	m.products[p.ID] = p
	return p, nil
}

func (m *MemoryRepository) GetProduct(_ context.Context, id string) (Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryRepository) UpdateProduct(_ context.Context, p Product) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[p.ID]; !ok {
		return Product{}, ErrNotFound
	}
	m.products[p.ID] = p
	return p, nil
}

func (m *MemoryRepository) DeleteProduct(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[id]; !ok {
		return ErrNotFound
	}
	delete(m.products, id)
	return nil
}

func (m *MemoryRepository) ListStoreProducts(_ context.Context, storeID string) ([]Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Product
	for _, p := range m.products {
		if p.StoreID == storeID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) ScanProduct(_ context.Context, storeID, productCode string) (Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.products {
		if p.StoreID == storeID && p.ProductCode == productCode {
			return p, nil
		}
	}
	return Product{}, ErrNotFound
}

func (m *MemoryRepository) GroundingFor(ctx context.Context, storeID, productID string) (types.Grounding, error) {
	s, err := m.GetStore(ctx, storeID)
	if err != nil {
		return types.Grounding{}, err
	}
	if productID == "" {
		return groundingFrom(s, nil), nil
	}
	p, err := m.GetProduct(ctx, productID)
	if err != nil {
		return types.Grounding{}, err
	}
	return groundingFrom(s, &p), nil
}
