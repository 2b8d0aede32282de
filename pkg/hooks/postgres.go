package hooks

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/graphmill/graphmill/pkg/config"
)

// Postgres reads documents from a table with content, is_delete, and
// created_at columns. Soft-deleted rows are skipped; rows come back in
// creation order.
type Postgres struct {
	connString string
	table      string
	pool       *pgxpool.Pool
}

// NewPostgres validates the configuration; the pool opens in Init
func NewPostgres(cfg config.Hooks) (*Postgres, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("hooks.connection_string is required for the postgres provider")
	}
	if cfg.TableName == "" {
		return nil, fmt.Errorf("hooks.table_name is required for the postgres provider")
	}
	return &Postgres{connString: cfg.ConnectionString, table: cfg.TableName}, nil
}

// Init opens the connection pool and pings the database
func (p *Postgres) Init(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, p.connString)
	if err != nil {
		return fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	p.pool = pool
	return nil
}

// Close releases the connection pool
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// FullData returns the content of every live row
func (p *Postgres) FullData(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(
		"SELECT content FROM %s WHERE is_delete = false ORDER BY created_at",
		pgx.Identifier{p.table}.Sanitize(),
	)
	return p.queryContent(ctx, query)
}

// IncrementalData returns the content of live rows created after the
// given version, interpreted as a millisecond timestamp.
func (p *Postgres) IncrementalData(ctx context.Context, sinceVersion string) ([]string, error) {
	since, err := versionToTime(sinceVersion)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"SELECT content FROM %s WHERE is_delete = false AND created_at > $1 ORDER BY created_at",
		pgx.Identifier{p.table}.Sanitize(),
	)
	return p.queryContent(ctx, query, since)
}

func (p *Postgres) queryContent(ctx context.Context, query string, args ...any) ([]string, error) {
	if p.pool == nil {
		return nil, fmt.Errorf("postgres provider not initialized")
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		texts = append(texts, content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read document rows: %w", err)
	}
	return CleanTexts(texts), nil
}

// versionToTime converts a millisecond-timestamp version string
func versionToTime(version string) (time.Time, error) {
	ms, err := strconv.ParseInt(version, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid version timestamp %q: %w", version, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
