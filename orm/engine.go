package orm

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/syssam/vellum"
	"github.com/syssam/vellum/config"
	"github.com/syssam/vellum/contrib/cache"
	"github.com/syssam/vellum/dialect"
	"github.com/syssam/vellum/dialect/sql"
	"github.com/syssam/vellum/dialect/sql/schema"
	vschema "github.com/syssam/vellum/schema"

	// Drivers reachable through config.Driver.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Engine binds a backend driver to a schema registry. It is safe for
// concurrent use; sessions created from it are not.
type Engine struct {
	drv      dialect.Driver
	reg      *vschema.Registry
	logger   *slog.Logger
	cache    vellum.Cache
	cacheTTL time.Duration
	flights  *singleflight.Group
	stats    *sql.QueryStats
	closer   func() error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for flush summaries and warnings.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithCache enables the read-through cache for tuple queries.
func WithCache(c vellum.Cache, ttl time.Duration) Option {
	return func(e *Engine) {
		e.cache, e.cacheTTL = c, ttl
	}
}

// WithStats records the statistics collector of a StatsDriver found
// below other driver decorators.
func WithStats(s *sql.QueryStats) Option {
	return func(e *Engine) {
		e.stats = s
	}
}

// NewEngine returns an engine over drv. The registry is resolved eagerly,
// so declaration errors surface here and never at flush time.
func NewEngine(drv dialect.Driver, reg *vschema.Registry, opts ...Option) (*Engine, error) {
	if drv == nil {
		return nil, fmt.Errorf("vellum: nil driver")
	}
	if !dialect.Supported(drv.Dialect()) {
		return nil, fmt.Errorf("vellum: unsupported dialect %q", drv.Dialect())
	}
	if err := reg.Resolve(); err != nil {
		return nil, fmt.Errorf("vellum: resolve schema: %w", err)
	}
	e := &Engine{
		drv:     drv,
		reg:     reg,
		logger:  slog.Default(),
		flights: &singleflight.Group{},
		closer:  drv.Close,
	}
	if sd, ok := drv.(*sql.StatsDriver); ok {
		e.stats = sd.QueryStats()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Open builds an engine from configuration: it opens the database,
// creates missing tables when AutoMigrate is set, and layers the stats,
// debug and cache options the configuration asks for.
func Open(ctx context.Context, cfg *config.Config, reg *vschema.Registry) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	db, err := stdsql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("vellum: open %s: %w", cfg.Driver, err)
	}
	base := sql.OpenDB(cfg.Dialect, db)
	if cfg.AutoMigrate {
		if err := schema.Create(ctx, base, reg, schema.WithLogger(logger)); err != nil {
			db.Close()
			return nil, err
		}
	}
	statsOpts := []sql.StatsOption{sql.WithSlowQueryLog(logger)}
	if cfg.SlowThreshold > 0 {
		statsOpts = append(statsOpts, sql.WithSlowThreshold(cfg.SlowThreshold))
	}
	sd := sql.NewStatsDriver(base, statsOpts...)
	var drv dialect.Driver = sd
	if cfg.Debug {
		drv = sql.NewDebugDriver(drv, sql.DebugWithLogger(logger))
	}
	opts := []Option{WithLogger(logger), WithStats(sd.QueryStats())}
	if cfg.CacheSize > 0 {
		opts = append(opts, WithCache(cache.NewLRU(cfg.CacheSize, cfg.CacheTTL), cfg.CacheTTL))
	}
	e, err := NewEngine(drv, reg, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

// Registry returns the schema registry of the engine.
func (e *Engine) Registry() *vschema.Registry { return e.reg }

// Dialect returns the dialect name of the backend.
func (e *Engine) Dialect() string { return e.drv.Dialect() }

// Driver returns the backend driver.
func (e *Engine) Driver() dialect.Driver { return e.drv }

// Stats returns a snapshot of the query statistics, or the zero snapshot
// when the driver does not collect them.
func (e *Engine) Stats() sql.StatsSnapshot {
	if e.stats == nil {
		return sql.StatsSnapshot{}
	}
	return e.stats.Stats()
}

// Debug returns an engine sharing the registry and cache whose statements
// are logged at debug level.
func (e *Engine) Debug() *Engine {
	if _, ok := e.drv.(*sql.DebugDriver); ok {
		return e
	}
	c := *e
	c.drv = sql.NewDebugDriver(e.drv, sql.DebugWithLogger(e.logger))
	return &c
}

// NewSession returns a new session. Sessions must not be shared between
// goroutines.
func (e *Engine) NewSession() *Session {
	return newSession(e)
}

// New returns a transient entity of the named table.
func (e *Engine) New(table string, values map[string]any) (*Entity, error) {
	t, err := e.reg.Table(table)
	if err != nil {
		return nil, err
	}
	ent, err := New(t, values)
	if err != nil {
		return nil, err
	}
	ent.reg = e.reg
	return ent, nil
}

// Close closes the backend driver.
func (e *Engine) Close() error {
	return e.closer()
}

// invalidate drops the cached results of the given tables.
func (e *Engine) invalidate(ctx context.Context, tables ...string) {
	if e.cache == nil {
		return
	}
	for _, t := range tables {
		if err := e.cache.DeletePrefix(ctx, vellum.TablePrefix(t)); err != nil {
			e.logger.WarnContext(ctx, "vellum: cache invalidation failed", "table", t, "error", err)
		}
	}
}
