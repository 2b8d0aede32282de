package storage

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/graphmill/graphmill/pkg/config"
)

// Client is a thin wrapper over the Neo4j driver bound to one database
type Client struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewClient connects to Neo4j and verifies connectivity
func NewClient(ctx context.Context, cfg config.Neo4j) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}
	return &Client{driver: driver, database: cfg.Database}, nil
}

// Close closes the underlying driver
func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// Run executes a single query in an auto-commit transaction and collects
// all records as maps.
func (c *Client) Run(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	var rows []map[string]any
	for result.Next(ctx) {
		rows = append(rows, result.Record().AsMap())
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("result iteration failed: %w", err)
	}
	return rows, nil
}

// ExecuteWrite runs fn inside a managed write transaction. Conditional
// state transitions go through here so the database, not process memory,
// serializes concurrent writers.
func (c *Client) ExecuteWrite(ctx context.Context, fn func(tx neo4j.ManagedTransaction) (any, error)) (any, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
	defer session.Close(ctx)
	return session.ExecuteWrite(ctx, fn)
}
