package hooks

import (
	"context"
	"fmt"
	"strings"

	"github.com/graphmill/graphmill/pkg/config"
)

// Provider supplies the source documents for graph builds. FullData
// returns every live document; IncrementalData returns documents newer
// than the given version (a millisecond-timestamp string).
type Provider interface {
	FullData(ctx context.Context) ([]string, error)
	IncrementalData(ctx context.Context, sinceVersion string) ([]string, error)
}

// Initializer is implemented by providers that need startup work, such
// as opening a connection pool.
type Initializer interface {
	Init(ctx context.Context) error
}

// New selects and constructs the configured provider
func New(cfg config.Hooks) (Provider, error) {
	switch cfg.Provider {
	case "static":
		return &Static{Documents: cfg.Documents}, nil
	case "postgres":
		return NewPostgres(cfg)
	}
	return nil, fmt.Errorf("unknown hooks provider: %q", cfg.Provider)
}

// CleanTexts drops empty and whitespace-only elements. Providers run
// their results through this so the pipeline only sees usable text.
func CleanTexts(texts []string) []string {
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			out = append(out, t)
		}
	}
	return out
}
