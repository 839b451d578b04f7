package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Postgres struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	// MigrationsPath holds the order and outbox migrations.
	MigrationsPath        string
	AddressMigrationsPath string
}

// DSN is the URL form used by pgx.
func (p Postgres) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", p.User, p.Password, p.Host, p.Port, p.DBName)
}

type Config struct {
	ServiceName     string
	LogLevel        string
	HTTPPort        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	TaxRate               decimal.Decimal
	FreeDeliveryThreshold decimal.Decimal
	Currency              string

	MongoURI    string
	MongoDBName string
	RedisAddr   string
	RedisPass   string
	Postgres    Postgres

	PromoDBPath         string
	PromoMigrationsPath string

	SlotBandsPath     string
	Location          *time.Location
	SlotHorizonDays   int
	ExpressFee        decimal.Decimal
	ExpressMinutes    int
	CapacityTimeout   time.Duration
	CapacityFallback  bool
	CapacityAvailable uint64

	KafkaBrokers []string

	CartTimeout  time.Duration
	OrderTimeout time.Duration
}

// Load reads the environment, after an optional .env file. Pricing constants
// are required; any unparsable value is a FatalConfigError.
func Load() (Config, error) {
	_ = godotenv.Load()

	p := &parser{}
	cfg := Config{
		ServiceName:     getEnv("SERVICE_NAME", "checkout-service"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		RequestTimeout:  p.duration("REQUEST_TIMEOUT", "30s"),
		ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", "10s"),

		TaxRate:               p.requiredDecimal("TAX_RATE"),
		FreeDeliveryThreshold: p.requiredDecimal("FREE_DELIVERY_THRESHOLD"),
		Currency:              getEnv("CURRENCY", "USD"),

		MongoURI:    os.Getenv("MONGO_URI"),
		MongoDBName: getEnv("MONGO_DB_NAME", "cartdb"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:   os.Getenv("REDIS_PASSWORD"),
		Postgres: Postgres{
			Host:                  getEnv("DB_HOST", "localhost"),
			Port:                  p.integer("DB_PORT", "5432"),
			User:                  getEnv("DB_USER", "postgres"),
			Password:              getEnv("DB_PASSWORD", "postgres"),
			DBName:                getEnv("DB_NAME", "checkout"),
			MigrationsPath:        getEnv("MIGRATIONS_PATH", "internal/order/repository/migrations"),
			AddressMigrationsPath: getEnv("ADDRESS_MIGRATIONS_PATH", "internal/address/migrations"),
		},

		PromoDBPath:         getEnv("PROMO_DB_PATH", "promo.db"),
		PromoMigrationsPath: getEnv("PROMO_MIGRATIONS_PATH", "internal/promo/migrations"),

		SlotBandsPath:     os.Getenv("SLOT_BANDS_PATH"),
		Location:          p.location("TIMEZONE", "UTC"),
		SlotHorizonDays:   p.integer("SLOT_HORIZON_DAYS", "7"),
		ExpressFee:        p.decimal("EXPRESS_FEE", "4.99"),
		ExpressMinutes:    p.integer("EXPRESS_MINUTES", "45"),
		CapacityTimeout:   p.duration("CAPACITY_TIMEOUT", "2s"),
		CapacityFallback:  p.boolean("CAPACITY_FALLBACK", "true"),
		CapacityAvailable: uint64(p.integer("CAPACITY_AVAILABLE_PERCENT", "85")),

		KafkaBrokers: splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),

		CartTimeout:  p.duration("CART_TIMEOUT", "5s"),
		OrderTimeout: p.duration("ORDER_TIMEOUT", "10s"),
	}
	if p.err != nil {
		return Config{}, p.err
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parser keeps the first error so Load reads like a table.
type parser struct {
	err error
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = &d.FatalConfigError{Key: key, Err: err}
	}
}

func (p *parser) requiredDecimal(key string) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		p.fail(key, d.ErrMissingValue)
		return decimal.Zero
	}
	return p.parseDecimal(key, v)
}

func (p *parser) decimal(key, def string) decimal.Decimal {
	return p.parseDecimal(key, getEnv(key, def))
}

func (p *parser) parseDecimal(key, v string) decimal.Decimal {
	out, err := decimal.NewFromString(v)
	if err != nil {
		p.fail(key, err)
		return decimal.Zero
	}
	return out
}

func (p *parser) duration(key, def string) time.Duration {
	out, err := time.ParseDuration(getEnv(key, def))
	if err != nil {
		p.fail(key, err)
	}
	return out
}

func (p *parser) integer(key, def string) int {
	out, err := strconv.Atoi(getEnv(key, def))
	if err != nil {
		p.fail(key, err)
	}
	return out
}

func (p *parser) boolean(key, def string) bool {
	out, err := strconv.ParseBool(getEnv(key, def))
	if err != nil {
		p.fail(key, err)
	}
	return out
}

func (p *parser) location(key, def string) *time.Location {
	loc, err := time.LoadLocation(getEnv(key, def))
	if err != nil {
		p.fail(key, err)
		return time.UTC
	}
	return loc
}

// IsFatal reports whether err came from configuration.
func IsFatal(err error) bool {
	var f *d.FatalConfigError
	return errors.As(err, &f)
}
