package promo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "modernc.org/sqlite"
)

// Repository is the SQLite-backed offer catalog.
type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations(migrationsPath string) error {
	driver, err := sqlite.WithInstance(r.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"sqlite",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func (r *Repository) FindByCode(ctx context.Context, code string) (*d.PromoOffer, error) {
	query := `
		SELECT code, discount_percent, min_order_amount, free_delivery, description
		FROM promo_offers
		WHERE code = ? COLLATE NOCASE AND active = 1
	`

	var o d.PromoOffer
	var minOrder string
	err := r.db.QueryRowContext(ctx, query, NormalizeCode(code)).Scan(
		&o.Code,
		&o.DiscountPercent,
		&minOrder,
		&o.FreeDelivery,
		&o.Description,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOfferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query promo offer: %w", err)
	}

	if err := o.MinOrderAmount.Scan(minOrder); err != nil {
		return nil, fmt.Errorf("invalid min_order_amount for %s: %w", o.Code, err)
	}
	return &o, nil
}

// List returns the active offers ordered by code.
func (r *Repository) List(ctx context.Context) ([]d.PromoOffer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT code, discount_percent, min_order_amount, free_delivery, description
		FROM promo_offers
		WHERE active = 1
		ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query promo offers: %w", err)
	}
	defer rows.Close()

	var offers []d.PromoOffer
	for rows.Next() {
		var o d.PromoOffer
		var minOrder string
		if err := rows.Scan(&o.Code, &o.DiscountPercent, &minOrder, &o.FreeDelivery, &o.Description); err != nil {
			return nil, fmt.Errorf("failed to scan promo offer: %w", err)
		}
		if err := o.MinOrderAmount.Scan(minOrder); err != nil {
			return nil, fmt.Errorf("invalid min_order_amount for %s: %w", o.Code, err)
		}
		offers = append(offers, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return offers, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}
