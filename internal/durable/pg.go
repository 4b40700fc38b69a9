package durable

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/quickoh/relay/internal/config"
	"github.com/quickoh/relay/internal/models"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var fs embed.FS

type PgStore struct {
	postgres *pgxpool.Pool
}

func MigrateDb(postgresURI string) error {
	log := logrus.WithField("prefix", "MigrateDb")
	d, err := iofs.New(fs, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", d, postgresURI)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		log.Info("DB is up to date")
		return nil
	} else if err != nil {
		return err
	}
	log.Info("DB updated successfully")
	return nil
}

// configurePoolSettings builds the pool config from POSTGRES_* settings.
// See https://pkg.go.dev/github.com/jackc/pgx/v4/pgxpool#ParseConfig
func configurePoolSettings(postgresURI string) (*pgxpool.Config, error) {
	log := logrus.WithField("prefix", "configurePoolSettings")

	poolConfig, err := pgxpool.ParseConfig(postgresURI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres URI: %w", err)
	}

	poolConfig.MaxConns = config.Config.PostgresMaxConns
	poolConfig.MinConns = config.Config.PostgresMinConns

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"POSTGRES_MAX_CONN_LIFETIME", config.Config.PostgresMaxConnLifetime, &poolConfig.MaxConnLifetime},
		{"POSTGRES_MAX_CONN_LIFETIME_JITTER", config.Config.PostgresMaxConnLifetimeJitter, &poolConfig.MaxConnLifetimeJitter},
		{"POSTGRES_MAX_CONN_IDLE_TIME", config.Config.PostgresMaxConnIdleTime, &poolConfig.MaxConnIdleTime},
		{"POSTGRES_HEALTH_CHECK_PERIOD", config.Config.PostgresHealthCheckPeriod, &poolConfig.HealthCheckPeriod},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.value)
		if err != nil {
			log.Warnf("invalid %s '%s', using default", d.name, d.value)
			continue
		}
		*d.dst = v
	}

	poolConfig.LazyConnect = config.Config.PostgresLazyConnect

	return poolConfig, nil
}

func NewPgStore(postgresURI string) (*PgStore, error) {
	log := logrus.WithField("prefix", "NewPgStore")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	poolConfig, err := configurePoolSettings(postgresURI)
	if err != nil {
		return nil, err
	}

	var pool *pgxpool.Pool
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		pool, err = pgxpool.ConnectConfig(ctx, poolConfig)
		if err != nil {
			log.Warnf("postgres connect failed: %v", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}

	if err := MigrateDb(postgresURI); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return &PgStore{postgres: pool}, nil
}

func (s *PgStore) AvailablePartners(ctx context.Context) ([]models.Partner, error) {
	rows, err := s.postgres.Query(ctx, `SELECT id, name, is_available FROM users
		WHERE role = $1 AND is_available`, string(models.RoleDeliveryPartner))
	if err != nil {
		return nil, fmt.Errorf("failed to query partners: %w", err)
	}
	defer rows.Close()

	var res []models.Partner
	for rows.Next() {
		var p models.Partner
		if err := rows.Scan(&p.ID, &p.Name, &p.IsAvailable); err != nil {
			return nil, fmt.Errorf("failed to scan partner: %w", err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *PgStore) ProductsByIDs(ctx context.Context, ids []string) (map[string]models.Product, error) {
	res := make(map[string]models.Product, len(ids))
	if len(ids) == 0 {
		return res, nil
	}
	rows, err := s.postgres.Query(ctx, `SELECT id, name, price::text, discount::text, stock
		FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.Product
		var price, discount string
		if err := rows.Scan(&p.ID, &p.Name, &price, &discount, &p.Stock); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		if p.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("invalid price for %s: %w", p.ID, err)
		}
		if p.Discount, err = decimal.NewFromString(discount); err != nil {
			return nil, fmt.Errorf("invalid discount for %s: %w", p.ID, err)
		}
		res[p.ID] = p
	}
	return res, rows.Err()
}

const orderColumns = `id, customer_id, items::text, total_amount::text, shipping_address::text,
	status, payment_status, COALESCE(assigned_to, ''), created_at, updated_at`

func scanOrder(row pgx.Row) (models.Order, error) {
	var o models.Order
	var items, total, address, status, payment string
	err := row.Scan(&o.ID, &o.UserID, &items, &total, &address, &status, &payment, &o.AssignedTo, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return o, ErrNotFound
	}
	if err != nil {
		return o, fmt.Errorf("failed to scan order: %w", err)
	}
	o.Status = models.OrderStatus(status)
	o.PaymentStatus = models.PaymentStatus(payment)
	if err := sonic.UnmarshalString(items, &o.Items); err != nil {
		return o, fmt.Errorf("invalid items for order %s: %w", o.ID, err)
	}
	if err := sonic.UnmarshalString(address, &o.ShippingAddress); err != nil {
		return o, fmt.Errorf("invalid address for order %s: %w", o.ID, err)
	}
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return o, fmt.Errorf("invalid total for order %s: %w", o.ID, err)
	}
	return o, nil
}

func (s *PgStore) CreateOrder(ctx context.Context, order models.Order) (models.Order, error) {
	items, err := sonic.MarshalString(order.Items)
	if err != nil {
		return models.Order{}, fmt.Errorf("failed to marshal items: %w", err)
	}
	address, err := sonic.MarshalString(order.ShippingAddress)
	if err != nil {
		return models.Order{}, fmt.Errorf("failed to marshal address: %w", err)
	}
	payment := order.PaymentStatus
	if payment == "" {
		payment = models.PaymentPending
	}
	row := s.postgres.QueryRow(ctx, `INSERT INTO orders
		(id, customer_id, items, total_amount, shipping_address, status, payment_status, assigned_to)
		VALUES ($1, $2, $3::jsonb, $4::numeric, $5::jsonb, $6, $7, NULLIF($8, ''))
		RETURNING `+orderColumns,
		order.ID, order.UserID, items, order.TotalAmount.String(), address, string(order.Status), string(payment), order.AssignedTo)
	return scanOrder(row)
}

func (s *PgStore) GetOrder(ctx context.Context, id string) (models.Order, error) {
	return scanOrder(s.postgres.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (s *PgStore) UpdateStatus(ctx context.Context, id string, status models.OrderStatus, from ...models.OrderStatus) (models.Order, error) {
	allowed := make([]string, 0, len(from))
	for _, f := range from {
		allowed = append(allowed, string(f))
	}
	o, err := scanOrder(s.postgres.QueryRow(ctx, `UPDATE orders SET status = $2, updated_at = now()
		WHERE id = $1 AND (cardinality($3::text[]) = 0 OR status = ANY($3))
		RETURNING `+orderColumns, id, string(status), allowed))
	if errors.Is(err, ErrNotFound) {
		return s.mismatchOrMissing(ctx, id)
	}
	return o, err
}

func (s *PgStore) AssignPartner(ctx context.Context, id string, partnerID string) (models.Order, error) {
	o, err := scanOrder(s.postgres.QueryRow(ctx, `UPDATE orders SET status = $2, assigned_to = $3, updated_at = now()
		WHERE id = $1 AND status = $4
		RETURNING `+orderColumns, id, string(models.StatusAssigned), partnerID, string(models.StatusPending)))
	if errors.Is(err, ErrNotFound) {
		return s.mismatchOrMissing(ctx, id)
	}
	return o, err
}

// mismatchOrMissing tells a failed conditional update on an existing order
// apart from an unknown order.
func (s *PgStore) mismatchOrMissing(ctx context.Context, id string) (models.Order, error) {
	o, err := s.GetOrder(ctx, id)
	if err != nil {
		return o, err
	}
	return o, ErrStatusMismatch
}

func (s *PgStore) ActiveOrders(ctx context.Context) ([]models.Order, error) {
	rows, err := s.postgres.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status = ANY($1) ORDER BY created_at DESC`,
		[]string{string(models.StatusPending), string(models.StatusProcessing)})
	if err != nil {
		return nil, fmt.Errorf("failed to query active orders: %w", err)
	}
	defer rows.Close()

	res := make([]models.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (s *PgStore) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.postgres.Ping(ctx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	return nil
}

func (s *PgStore) Close() {
	s.postgres.Close()
}
