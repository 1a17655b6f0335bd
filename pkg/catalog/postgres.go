package catalog

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/voicelane/voicelane/pkg/core/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository is the pgx-backed Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database and verifies the connection.
func NewPostgres(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// Migrate applies the embedded schema migrations.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CreateStore(ctx context.Context, s Store) (Store, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO stores (id, name, location) VALUES ($1, $2, $3)`,
		s.ID, s.Name, s.Location)
	if err != nil {
		return Store{}, fmt.Errorf("insert store: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) GetStore(ctx context.Context, id string) (Store, error) {
	var s Store
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, location FROM stores WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.Location)
	if errors.Is(err, pgx.ErrNoRows) {
		return Store{}, ErrNotFound
	}
	if err != nil {
		return Store{}, fmt.Errorf("select store: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) ListStores(ctx context.Context) ([]Store, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, location FROM stores ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select stores: %w", err)
	}
	defer rows.Close()

	var out []Store
	for rows.Next() {
		var s Store
		if err := rows.Scan(&s.ID, &s.Name, &s.Location); err != nil {
			return nil, fmt.Errorf("scan store: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const productColumns = `id, store_id, product_code, name, brand, ingredients,
	price, stock, variants, comparison_tags, shelf_location`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.StoreID, &p.ProductCode, &p.Name, &p.Brand,
		&p.Ingredients, &p.Price, &p.Stock, &p.Variants, &p.ComparisonTags,
		&p.ShelfLocation)
	return p, err
}

func (r *PostgresRepository) CreateProduct(ctx context.Context, p Product) (Product, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO products (id, store_id, product_code, name, brand, ingredients,
			price, stock, variants, comparison_tags, shelf_location)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.StoreID, p.ProductCode, p.Name, p.Brand, p.Ingredients,
		p.Price, p.Stock, p.Variants, p.ComparisonTags, p.ShelfLocation)
	if err != nil {
		return Product{}, fmt.Errorf("insert product: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) GetProduct(ctx context.Context, id string) (Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) UpdateProduct(ctx context.Context, p Product) (Product, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE products SET name = $2, brand = $3, ingredients = $4, price = $5,
			stock = $6, variants = $7, comparison_tags = $8, shelf_location = $9
		 WHERE id = $1`,
		p.ID, p.Name, p.Brand, p.Ingredients, p.Price, p.Stock,
		p.Variants, p.ComparisonTags, p.ShelfLocation)
	if err != nil {
		return Product{}, fmt.Errorf("update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Product{}, ErrNotFound
	}
	return r.GetProduct(ctx, p.ID)
}

func (r *PostgresRepository) DeleteProduct(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) ListStoreProducts(ctx context.Context, storeID string) ([]Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE store_id = $1 ORDER BY id`,
		storeID)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ScanProduct(ctx context.Context, storeID, productCode string) (Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE store_id = $1 AND product_code = $2`,
		storeID, productCode))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("scan lookup: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) GroundingFor(ctx context.Context, storeID, productID string) (types.Grounding, error) {
	s, err := r.GetStore(ctx, storeID)
	if err != nil {
		return types.Grounding{}, err
	}
	if productID == "" {
		return groundingFrom(s, nil), nil
	}
	p, err := r.GetProduct(ctx, productID)
	if err != nil {
		return types.Grounding{}, err
	}
	return groundingFrom(s, &p), nil
}
