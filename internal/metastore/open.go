package metastore

import (
	"context"
	"fmt"
	"path/filepath"
)

// Engine names accepted by Open.
const (
	EngineBbolt   = "bbolt"
	EngineLevelDB = "leveldb"
	EngineSQLite  = "sqlite"
	EngineRedis   = "redis"
	EngineMemory  = "memory"
)

// Options selects and configures an engine.
type Options struct {
	Engine string
	// Path is the database file (bbolt, sqlite) or directory (leveldb).
	// When empty a default under Dir is used.
	Path  string
	Dir   string
	Redis RedisConfig
}

// DefaultPath returns the on-disk location an engine uses under dir.
func DefaultPath(engine, dir string) string {
	switch engine {
	case EngineLevelDB:
		return filepath.Join(dir, "meta.ldb")
	case EngineSQLite:
		return filepath.Join(dir, "meta.sqlite")
	default:
		return filepath.Join(dir, "meta.db")
	}
}

// Open constructs the configured engine.
func Open(ctx context.Context, opts Options) (Store, error) {
	engine := opts.Engine
	if engine == "" {
		engine = EngineBbolt
	}
	path := opts.Path
	if path == "" {
		path = DefaultPath(engine, opts.Dir)
	}

	switch engine {
	case EngineBbolt:
		return NewBboltStore(path)
	case EngineLevelDB:
		return NewLevelDBStore(path)
	case EngineSQLite:
		return NewSQLiteStore(path)
	case EngineRedis:
		return NewRedisStore(ctx, opts.Redis)
	case EngineMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown metadata engine %q", engine)
	}
}
