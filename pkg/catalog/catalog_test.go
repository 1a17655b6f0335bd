package catalog

import (
	"context"
	"errors"
	"testing"
)

func seedRepo(t *testing.T) *MemoryRepository {
	t.Helper()
	ctx := context.Background()
	repo := NewMemory()

	if _, err := repo.CreateStore(ctx, Store{ID: "store_1", Name: "Midtown Market", Location: "5th Ave"}); err != nil {
		t.Fatalf("create store: %v", err)
	}
	_, err := repo.CreateProduct(ctx, Product{
		ID:            "prod_1",
		StoreID:       "store_1",
		ProductCode:   "012345",
		Name:          "Oat Milk",
		Brand:         "Grainful",
		Price:         4.99,
		Stock:         12,
		ShelfLocation: "aisle 4",
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return repo
}

func TestMemoryRepository_ProductCRUD(t *testing.T) {
	ctx := context.Background()
	repo := seedRepo(t)

	p, err := repo.GetProduct(ctx, "prod_1")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if p.Name != "Oat Milk" {
		t.Fatalf("name = %q, want Oat Milk", p.Name)
	}

	p.Stock = 3
	if _, err := repo.UpdateProduct(ctx, p); err != nil {
		t.Fatalf("update product: %v", err)
	}
	p, _ = repo.GetProduct(ctx, "prod_1")
	if p.Stock != 3 {
		t.Fatalf("stock = %d, want 3", p.Stock)
	}

	list, err := repo.ListStoreProducts(ctx, "store_1")
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %v (err %v), want one product", list, err)
	}

	if err := repo.DeleteProduct(ctx, "prod_1"); err != nil {
		t.Fatalf("delete product: %v", err)
	}
	if _, err := repo.GetProduct(ctx, "prod_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete = %v, want ErrNotFound", err)
	}
}

func TestMemoryRepository_CreateProductUnknownStore(t *testing.T) {
	repo := NewMemory()
	_, err := repo.CreateProduct(context.Background(), Product{StoreID: "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryRepository_ScanProduct(t *testing.T) {
	ctx := context.Background()
	repo := seedRepo(t)

	p, err := repo.ScanProduct(ctx, "store_1", "012345")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if p.ID != "prod_1" {
		t.Fatalf("scan id = %q, want prod_1", p.ID)
	}

	if _, err := repo.ScanProduct(ctx, "store_1", "999999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("scan unknown code = %v, want ErrNotFound", err)
	}
	if _, err := repo.ScanProduct(ctx, "store_2", "012345"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("scan wrong store = %v, want ErrNotFound", err)
	}
}

func TestGroundingFor(t *testing.T) {
	ctx := context.Background()
	repo := seedRepo(t)

	g, err := repo.GroundingFor(ctx, "store_1", "prod_1")
	if err != nil {
		t.Fatalf("grounding: %v", err)
	}
	if g.StoreName != "Midtown Market" {
		t.Fatalf("store name = %q", g.StoreName)
	}
	if g.Product == nil || g.Product.Name != "Oat Milk" || g.Product.ShelfLocation != "aisle 4" {
		t.Fatalf("product facts = %#v", g.Product)
	}

	storeOnly, err := repo.GroundingFor(ctx, "store_1", "")
	if err != nil {
		t.Fatalf("store-only grounding: %v", err)
	}
	if storeOnly.Product != nil {
		t.Fatal("store-only grounding should have nil product")
	}

	if _, err := repo.GroundingFor(ctx, "missing", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown store = %v, want ErrNotFound", err)
	}
}
