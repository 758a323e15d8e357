package sql

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/syssam/vellum/dialect"
)

// QueryStats counts the statements and transactions that went through a
// StatsDriver. It is safe for concurrent use.
type QueryStats struct {
	queries   atomic.Int64
	execs     atomic.Int64
	errors    atomic.Int64
	slow      atomic.Int64
	commits   atomic.Int64
	rollbacks atomic.Int64
	total     atomic.Int64 // nanoseconds
	max       atomic.Int64 // nanoseconds
}

// StatsSnapshot is a point-in-time copy of QueryStats.
type StatsSnapshot struct {
	TotalQueries  int64
	TotalExecs    int64
	Errors        int64
	SlowQueries   int64
	Commits       int64
	Rollbacks     int64
	TotalDuration time.Duration
	MaxDuration   time.Duration
}

// Stats returns a snapshot of the counters.
func (s *QueryStats) Stats() StatsSnapshot {
	return StatsSnapshot{
		TotalQueries:  s.queries.Load(),
		TotalExecs:    s.execs.Load(),
		Errors:        s.errors.Load(),
		SlowQueries:   s.slow.Load(),
		Commits:       s.commits.Load(),
		Rollbacks:     s.rollbacks.Load(),
		TotalDuration: time.Duration(s.total.Load()),
		MaxDuration:   time.Duration(s.max.Load()),
	}
}

// Reset zeroes the counters.
func (s *QueryStats) Reset() {
	for _, c := range []*atomic.Int64{&s.queries, &s.execs, &s.errors, &s.slow, &s.commits, &s.rollbacks, &s.total, &s.max} {
		c.Store(0)
	}
}

func (s *QueryStats) observe(d time.Duration) {
	s.total.Add(int64(d))
	for {
		cur := s.max.Load()
		if int64(d) <= cur || s.max.CompareAndSwap(cur, int64(d)) {
			return
		}
	}
}

// Statements returns the number of queries and execs.
func (s StatsSnapshot) Statements() int64 { return s.TotalQueries + s.TotalExecs }

// AvgDuration returns the mean statement duration.
func (s StatsSnapshot) AvgDuration() time.Duration {
	if n := s.Statements(); n > 0 {
		return s.TotalDuration / time.Duration(n)
	}
	return 0
}

func (s StatsSnapshot) String() string {
	return fmt.Sprintf("queries=%d execs=%d errors=%d slow=%d commits=%d rollbacks=%d avg=%s max=%s",
		s.TotalQueries, s.TotalExecs, s.Errors, s.SlowQueries, s.Commits, s.Rollbacks, s.AvgDuration(), s.MaxDuration)
}

// SlowQueryHook is called for every statement slower than the threshold
// of a StatsDriver.
type SlowQueryHook func(ctx context.Context, query string, args []any, took time.Duration)

// StatsDriver is a driver decorator collecting QueryStats for the
// statements run on it and on its transactions.
type StatsDriver struct {
	dialect.Driver
	stats     *QueryStats
	threshold atomic.Int64
	hook      SlowQueryHook
}

// StatsOption configures a StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the duration above which a statement counts as
// slow. The default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) { s.threshold.Store(int64(d)) }
}

// WithSlowQueryHook sets the hook called for slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsDriver) { s.hook = hook }
}

// WithSlowQueryLog logs slow statements at warn level on l, or on the
// default logger when l is nil.
func WithSlowQueryLog(l *slog.Logger) StatsOption {
	if l == nil {
		l = slog.Default()
	}
	return WithSlowQueryHook(func(ctx context.Context, query string, args []any, took time.Duration) {
		l.WarnContext(ctx, "vellum: slow query", "duration", took, "query", query, "args", len(args))
	})
}

// NewStatsDriver wraps drv:
//
//	sd := sql.NewStatsDriver(drv, sql.WithSlowThreshold(200*time.Millisecond), sql.WithSlowQueryLog(nil))
//	engine, _ := orm.NewEngine(sd, registry)
//	fmt.Println(engine.Stats())
func NewStatsDriver(drv dialect.Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{Driver: drv, stats: &QueryStats{}}
	s.threshold.Store(int64(100 * time.Millisecond))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryStats returns the counters of the driver.
func (d *StatsDriver) QueryStats() *QueryStats { return d.stats }

// SlowThreshold returns the slow statement threshold.
func (d *StatsDriver) SlowThreshold() time.Duration { return time.Duration(d.threshold.Load()) }

// SetSlowThreshold changes the slow statement threshold.
func (d *StatsDriver) SetSlowThreshold(t time.Duration) { d.threshold.Store(int64(t)) }

// Query implements dialect.ExecQuerier.
func (d *StatsDriver) Query(ctx context.Context, query string, args, v any) error {
	return d.measure(ctx, &d.stats.queries, query, args, func() error {
		return d.Driver.Query(ctx, query, args, v)
	})
}

// Exec implements dialect.ExecQuerier.
func (d *StatsDriver) Exec(ctx context.Context, query string, args, v any) error {
	return d.measure(ctx, &d.stats.execs, query, args, func() error {
		return d.Driver.Exec(ctx, query, args, v)
	})
}

// Tx starts a transaction whose statements are counted too.
func (d *StatsDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		d.stats.errors.Add(1)
		return nil, err
	}
	return &statsTx{Tx: tx, drv: d}, nil
}

func (d *StatsDriver) measure(ctx context.Context, counter *atomic.Int64, query string, args any, run func() error) error {
	start := time.Now()
	err := run()
	took := time.Since(start)
	counter.Add(1)
	d.stats.observe(took)
	if err != nil {
		d.stats.errors.Add(1)
	}
	if took > d.SlowThreshold() {
		d.stats.slow.Add(1)
		if d.hook != nil {
			argv, _ := args.([]any)
			d.hook(ctx, query, argv, took)
		}
	}
	return err
}

type statsTx struct {
	dialect.Tx
	drv *StatsDriver
}

func (tx *statsTx) Query(ctx context.Context, query string, args, v any) error {
	return tx.drv.measure(ctx, &tx.drv.stats.queries, query, args, func() error {
		return tx.Tx.Query(ctx, query, args, v)
	})
}

func (tx *statsTx) Exec(ctx context.Context, query string, args, v any) error {
	return tx.drv.measure(ctx, &tx.drv.stats.execs, query, args, func() error {
		return tx.Tx.Exec(ctx, query, args, v)
	})
}

func (tx *statsTx) Commit() error {
	err := tx.Tx.Commit()
	if err != nil {
		tx.drv.stats.errors.Add(1)
	} else {
		tx.drv.stats.commits.Add(1)
	}
	return err
}

func (tx *statsTx) Rollback() error {
	tx.drv.stats.rollbacks.Add(1)
	return tx.Tx.Rollback()
}

// DebugDriver is a driver decorator logging every statement and
// transaction boundary.
type DebugDriver struct {
	dialect.Driver
	log func(context.Context, ...any)
}

// DebugOption configures a DebugDriver.
type DebugOption func(*DebugDriver)

// DebugWithLog sets the log function.
func DebugWithLog(fn func(context.Context, ...any)) DebugOption {
	return func(d *DebugDriver) { d.log = fn }
}

// DebugWithLogger logs at debug level on l.
func DebugWithLogger(l *slog.Logger) DebugOption {
	return DebugWithLog(func(ctx context.Context, v ...any) {
		l.DebugContext(ctx, fmt.Sprint(v...))
	})
}

// NewDebugDriver wraps drv. Without options, statements are logged at
// info level on the default logger.
func NewDebugDriver(drv dialect.Driver, opts ...DebugOption) *DebugDriver {
	d := &DebugDriver{Driver: drv}
	d.log = func(ctx context.Context, v ...any) { slog.InfoContext(ctx, fmt.Sprint(v...)) }
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Query implements dialect.ExecQuerier.
func (d *DebugDriver) Query(ctx context.Context, query string, args, v any) error {
	d.log(ctx, statement("query", query, args))
	return d.Driver.Query(ctx, query, args, v)
}

// Exec implements dialect.ExecQuerier.
func (d *DebugDriver) Exec(ctx context.Context, query string, args, v any) error {
	d.log(ctx, statement("exec", query, args))
	return d.Driver.Exec(ctx, query, args, v)
}

// Tx starts a transaction whose statements are logged with a "tx" prefix.
func (d *DebugDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	d.log(ctx, "begin transaction")
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &debugTx{Tx: tx, log: d.log, ctx: ctx}, nil
}

func statement(kind, query string, args any) string {
	return fmt.Sprintf("%s: %s args: %v", kind, query, args)
}

type debugTx struct {
	dialect.Tx
	log func(context.Context, ...any)
	ctx context.Context
}

func (tx *debugTx) Query(ctx context.Context, query string, args, v any) error {
	tx.log(ctx, statement("tx query", query, args))
	return tx.Tx.Query(ctx, query, args, v)
}

func (tx *debugTx) Exec(ctx context.Context, query string, args, v any) error {
	tx.log(ctx, statement("tx exec", query, args))
	return tx.Tx.Exec(ctx, query, args, v)
}

func (tx *debugTx) Commit() error {
	tx.log(tx.ctx, "commit transaction")
	return tx.Tx.Commit()
}

func (tx *debugTx) Rollback() error {
	tx.log(tx.ctx, "rollback transaction")
	return tx.Tx.Rollback()
}

var (
	_ dialect.Driver = (*StatsDriver)(nil)
	_ dialect.Tx     = (*statsTx)(nil)
	_ dialect.Driver = (*DebugDriver)(nil)
	_ dialect.Tx     = (*debugTx)(nil)
)
