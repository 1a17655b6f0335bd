// Package catalog holds the store and product data behind grounding
// lookups and the catalog CRUD surface.
package catalog

import (
	"context"
	"errors"

	"github.com/voicelane/voicelane/pkg/core/types"
)

// ErrNotFound is returned when a store or product does not exist.
var ErrNotFound = errors.New("catalog: not found")

// Store is a physical retail location.
type Store struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

// Product is one catalog entry within a store.
type Product struct {
	ID             string   `json:"id"`
	StoreID        string   `json:"store_id"`
	ProductCode    string   `json:"product_code"`
	Name           string   `json:"name"`
	Brand          string   `json:"brand"`
	Ingredients    string   `json:"ingredients"`
	Price          float64  `json:"price"`
	Stock          int      `json:"stock"`
	Variants       []string `json:"variants"`
	ComparisonTags []string `json:"comparison_tags"`
	ShelfLocation  string   `json:"shelf_location"`
}

// Facts converts the product to the grounding shape the pipeline consumes.
func (p *Product) Facts() *types.ProductFacts {
	if p == nil {
		return nil
	}
	return &types.ProductFacts{
		ID:             p.ID,
		Name:           p.Name,
		Brand:          p.Brand,
		Price:          p.Price,
		Stock:          p.Stock,
		Ingredients:    p.Ingredients,
		Variants:       p.Variants,
		ComparisonTags: p.ComparisonTags,
		ShelfLocation:  p.ShelfLocation,
	}
}

// Lookup resolves grounding for a voice session. Implemented by Repository;
// the pipeline layer depends on this and nothing else from the catalog.
type Lookup interface {
	// GroundingFor returns the grounding block for a store and, when
	// productID is non-empty, the product currently in front of the
	// customer. An unknown store or product returns ErrNotFound.
	GroundingFor(ctx context.Context, storeID, productID string) (types.Grounding, error)
}

// Repository is the full catalog persistence surface.
type Repository interface {
	Lookup

	CreateStore(ctx context.Context, s Store) (Store, error)
	GetStore(ctx context.Context, id string) (Store, error)
	ListStores(ctx context.Context) ([]Store, error)

	CreateProduct(ctx context.Context, p Product) (Product, error)
	GetProduct(ctx context.Context, id string) (Product, error)
	UpdateProduct(ctx context.Context, p Product) (Product, error)
	DeleteProduct(ctx context.Context, id string) error
	ListStoreProducts(ctx context.Context, storeID string) ([]Product, error)

	// ScanProduct finds a product by barcode within one store.
	ScanProduct(ctx context.Context, storeID, productCode string) (Product, error)
}

// groundingFrom assembles a Grounding from a store and an optional product.
func groundingFrom(s Store, p *Product) types.Grounding {
	return types.Grounding{
		StoreID:   s.ID,
		StoreName: s.Name,
		Location:  s.Location,
		Product:   p.Facts(),
	}
}
