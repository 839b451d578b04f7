// Package address is the address book: saved delivery addresses per user with
// exactly one default.
package address

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrAddressNotFound = d.ErrAddressNotFound

type Repository struct {
	db *pgxpool.Pool
}

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse address book dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open address book pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping address book database: %w", err)
	}
	return pool, nil
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// RunMigrations applies the address schema. dsn is a postgres:// URL.
func RunMigrations(dsn, migrationsPath string) error {
	url := strings.Replace(dsn, "postgres://", "pgx5://", 1)
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	url += sep + "x-migrations-table=addresses_schema_migrations"

	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), url)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

const selectColumns = `id::text, user_id, type, street, apartment, city, state, zip_code, instructions, is_default, created_at`

func scanAddress(row pgx.Row) (d.Address, error) {
	var a d.Address
	var typ string
	err := row.Scan(&a.ID, &a.UserID, &typ, &a.Street, &a.Apartment, &a.City, &a.State,
		&a.ZipCode, &a.Instructions, &a.IsDefault, &a.CreatedAt)
	a.Type = d.AddressType(typ)
	return a, err
}

// List returns the user's addresses, default first.
func (r *Repository) List(ctx context.Context, userID string) ([]d.Address, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+selectColumns+` FROM addresses WHERE user_id=$1 ORDER BY is_default DESC, created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("query addresses: %w", err)
	}
	defer rows.Close()

	out := []d.Address{}
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate addresses: %w", err)
	}
	return out, nil
}

func (r *Repository) Get(ctx context.Context, userID, addressID string) (d.Address, error) {
	if _, err := uuid.Parse(addressID); err != nil {
		return d.Address{}, ErrAddressNotFound
	}
	a, err := scanAddress(r.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM addresses WHERE id=$1 AND user_id=$2`, addressID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return d.Address{}, ErrAddressNotFound
	}
	if err != nil {
		return d.Address{}, fmt.Errorf("query address: %w", err)
	}
	return a, nil
}

// Create validates and stores a new address. The first address of a user, or
// one flagged default, becomes the single default.
func (r *Repository) Create(ctx context.Context, addr d.Address) (d.Address, error) {
	if err := addr.Validate(); err != nil {
		return d.Address{}, err
	}
	addr.ID = uuid.NewString()
	addr.ZipCode = strings.TrimSpace(addr.ZipCode)

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return d.Address{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// serializes concurrent creates for one user
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, addr.UserID); err != nil {
		return d.Address{}, fmt.Errorf("lock address book: %w", err)
	}

	var existing int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM addresses WHERE user_id=$1`, addr.UserID).Scan(&existing); err != nil {
		return d.Address{}, fmt.Errorf("count addresses: %w", err)
	}
	addr.IsDefault = addr.IsDefault || existing == 0
	if addr.IsDefault {
		if _, err := tx.Exec(ctx, `UPDATE addresses SET is_default=FALSE WHERE user_id=$1 AND is_default`, addr.UserID); err != nil {
			return d.Address{}, fmt.Errorf("clear default address: %w", err)
		}
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO addresses (id, user_id, type, street, apartment, city, state, zip_code, instructions, is_default)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`,
		addr.ID, addr.UserID, string(addr.Type), addr.Street, addr.Apartment, addr.City, addr.State,
		addr.ZipCode, addr.Instructions, addr.IsDefault,
	).Scan(&addr.CreatedAt)
	if err != nil {
		return d.Address{}, fmt.Errorf("insert address: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return d.Address{}, fmt.Errorf("commit address: %w", err)
	}
	return addr, nil
}

// SetDefault makes addressID the user's only default.
func (r *Repository) SetDefault(ctx context.Context, userID, addressID string) error {
	if _, err := uuid.Parse(addressID); err != nil {
		return ErrAddressNotFound
	}
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE addresses SET is_default=FALSE WHERE user_id=$1 AND is_default AND id<>$2`, userID, addressID); err != nil {
		return fmt.Errorf("clear default address: %w", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE addresses SET is_default=TRUE WHERE user_id=$1 AND id=$2`, userID, addressID)
	if err != nil {
		return fmt.Errorf("set default address: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAddressNotFound
	}
	return tx.Commit(ctx)
}
