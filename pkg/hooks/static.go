package hooks

import "context"

// Static serves a fixed in-memory document set. It backs tests and
// first-run setups that have no database yet.
type Static struct {
	Documents []string
}

// FullData returns all configured documents
func (s *Static) FullData(ctx context.Context) ([]string, error) {
	return CleanTexts(s.Documents), nil
}

// IncrementalData returns nothing: a static set never grows
func (s *Static) IncrementalData(ctx context.Context, sinceVersion string) ([]string, error) {
	return nil, nil
}
