package hooks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmill/graphmill/pkg/config"
)

func TestNewSelectsProvider(t *testing.T) {
	p, err := New(config.Hooks{Provider: "static", Documents: []string{"doc"}})
	require.NoError(t, err)
	assert.IsType(t, &Static{}, p)

	p, err = New(config.Hooks{Provider: "postgres", ConnectionString: "postgres://localhost/kg", TableName: "documents"})
	require.NoError(t, err)
	assert.IsType(t, &Postgres{}, p)

	_, err = New(config.Hooks{Provider: "mongodb"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown hooks provider")
}

func TestNewPostgresRequiresConnectionAndTable(t *testing.T) {
	_, err := NewPostgres(config.Hooks{TableName: "documents"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection_string")

	_, err = NewPostgres(config.Hooks{ConnectionString: "postgres://localhost/kg"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table_name")
}

func TestStaticFullDataCleansTexts(t *testing.T) {
	s := &Static{Documents: []string{"first", "  ", "", "second"}}

	texts, err := s.FullData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, texts)
}

func TestStaticIncrementalDataIsEmpty(t *testing.T) {
	s := &Static{Documents: []string{"first"}}

	texts, err := s.IncrementalData(context.Background(), "1700000000000")
	require.NoError(t, err)
	assert.Empty(t, texts)
}

func TestCleanTexts(t *testing.T) {
	assert.Empty(t, CleanTexts(nil))
	assert.Equal(t, []string{"a", "b"}, CleanTexts([]string{"a", "\t\n", "b", " "}))
}

func TestVersionToTime(t *testing.T) {
	ts, err := versionToTime("1700000000000")
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), ts)

	_, err = versionToTime("not-a-version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid version timestamp")
}

func TestPostgresQueriesRequireInit(t *testing.T) {
	p, err := NewPostgres(config.Hooks{ConnectionString: "postgres://localhost/kg", TableName: "documents"})
	require.NoError(t, err)

	_, err = p.FullData(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")
}
