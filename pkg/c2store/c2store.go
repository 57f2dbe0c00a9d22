// Package c2store is the entry point for embedding the entity store.
//
// Open builds a schema registry from the configured schema directory,
// attaches the configured backend, and returns a Store ready for use:
//
//	store, err := c2store.Open(types.Config{
//	    Backend:   types.BackendSQLite,
//	    DataDir:   ".c2store-db",
//	    SchemaDir: "schemas",
//	}, logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
package c2store

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/c2store/internal/engine"
	"github.com/mesh-intelligence/c2store/internal/memstore"
	"github.com/mesh-intelligence/c2store/internal/schema"
	"github.com/mesh-intelligence/c2store/internal/sqlite"
	"github.com/mesh-intelligence/c2store/pkg/types"
)

// Version is the release version reported by the CLI.
const Version = "0.1.0"

// Store is the schema-driven entity store returned by Open.
type Store = engine.Engine

// Open validates cfg, loads every schema file in cfg.SchemaDir, and opens
// the configured backend. An empty SchemaDir starts with no types. A schema
// document that fails to parse or compile yields an error matching
// types.ErrSchema and nothing is opened.
func Open(cfg types.Config, logger *zap.Logger) (*Store, error) {
	var docs []schema.Document
	if cfg.SchemaDir != "" {
		var err error
		docs, err = schema.ReadDir(cfg.SchemaDir)
		if err != nil {
			return nil, err
		}
	}
	return OpenWithSchemas(cfg, docs, logger)
}

// OpenWithSchemas is Open with the schema documents supplied by the caller.
// cfg.SchemaDir is ignored.
func OpenWithSchemas(cfg types.Config, docs []schema.Document, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg = cfg.WithDefaults()

	reg := schema.NewRegistry(logger)
	if err := reg.Load(docs); err != nil {
		return nil, fmt.Errorf("loading schemas: %w", err)
	}

	backend, err := openBackend(cfg, logger)
	if err != nil {
		return nil, err
	}

	return engine.New(reg, backend, engine.Options{
		DeletePolicy:  cfg.DeletePolicy,
		GeoBounds:     cfg.GeoBounds,
		FeedRetention: cfg.FeedRetention,
	}, logger), nil
}

func openBackend(cfg types.Config, logger *zap.Logger) (types.Backend, error) {
	switch cfg.Backend {
	case types.BackendMemory:
		return memstore.New(), nil
	case types.BackendSQLite:
		b := sqlite.NewBackend(logger)
		if err := b.Attach(cfg); err != nil {
			return nil, fmt.Errorf("attaching sqlite backend: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrBackendUnknown, cfg.Backend)
	}
}
