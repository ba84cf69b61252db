package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to open an Engine.
//
// When to use:
//   - Use Config when constructing an Engine via Open.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
//     The sqlite backend treats an empty DSN as a private in-memory database.
type Config struct {
	Kind string `mapstructure:"kind" yaml:"kind"`
	DSN  string `mapstructure:"dsn" yaml:"dsn"`
}

// Engine is an explicitly owned analytical engine: a place tables can be
// registered into and SQL can be executed against.
//
// Each backend implements these semantics in its own idiomatic way (SQLite
// transactional DDL, Postgres COPY, SQL Server batched inserts).
//
// Concurrency:
//   - Engines add no locking of their own beyond what the driver/pool provides.
//     Callers that need strict ordering between RegisterTables and Execute
//     must sequence those calls.
type Engine interface {
	// Kind returns the backend kind this engine was opened with.
	Kind() string

	// RegisterTables materializes tables under their exact names.
	//
	// Edge cases:
	//   - Only Included columns are created; a table with zero included columns
	//     is skipped entirely.
	//   - Re-registering a name replaces the previous definition and data.
	//
	// Errors:
	//   - Returns a *RegistrationError for the first table that cannot be loaded.
	//     That table is not created; tables registered earlier in the batch stay.
	RegisterTables(ctx context.Context, tables []TableSpec) error

	// Execute runs sql and returns the result rows in engine order.
	//
	// Errors:
	//   - Returns a *QueryError carrying the engine's message.
	Execute(ctx context.Context, sql string) ([]Row, error)

	// Close releases the engine's connections. Call it once.
	Close() error
}

type factory func(ctx context.Context, cfg Config) (Engine, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers an engine backend under a kind (e.g. "sqlite", "postgres").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//   - The `kind` string becomes the lookup key used by Open.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. This is intentional to fail fast and
//     avoid ambiguous backend selection.
func Register(kind string, f func(ctx context.Context, cfg Config) (Engine, error)) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// Open constructs and connects an Engine using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with Register. Open takes a read lock while
//     selecting the factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func Open(ctx context.Context, cfg Config) (Engine, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing engine kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported engine kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
