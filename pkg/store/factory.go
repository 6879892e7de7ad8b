package store

import (
	"fmt"
	"log/slog"
)

// Options selects and configures a store backend.
type Options struct {
	Provider Provider

	// Path is the data directory for the badger backend.
	Path string

	// Neo4j connection settings.
	URI      string
	Username string
	Password string
	Database string

	Logger *slog.Logger
}

// New constructs the GraphStore named by opts.Provider.
func New(opts Options) (GraphStore, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	switch opts.Provider {
	case ProviderMemory, "":
		return NewMemoryStore(opts.Logger), nil
	case ProviderBadger:
		return NewBadgerStore(opts.Path, opts.Logger)
	case ProviderNeo4j:
		return NewNeo4jStore(opts.URI, opts.Username, opts.Password, opts.Database, opts.Logger)
	default:
		return nil, fmt.Errorf("unknown store provider %q", opts.Provider)
	}
}
