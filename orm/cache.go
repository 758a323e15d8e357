package orm

import (
	"bytes"
	"context"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/vellum"
)

// cacheable reports whether the rows of q may be served from the result
// cache: single table tuple queries of sessions without uncommitted writes.
func (q *Query) cacheable() bool {
	return q.s.engine.cache != nil && q.entity == nil && q.from != "" &&
		len(q.joins) == 0 && len(q.s.written) == 0
}

// cachedRows returns the raw rows of a statement, reading through the
// engine cache. Concurrent misses of the same statement share one query.
func (s *Session) cachedRows(ctx context.Context, table, query string, args []any) ([][]any, error) {
	c := s.engine.cache
	key := vellum.CacheKey{Table: table, Operation: "rows", Query: query, Args: args}.String()
	if b, err := c.Get(ctx, key); err == nil && b != nil {
		if rows, err := decodeRows(b); err == nil {
			return rows, nil
		}
		s.engine.logger.DebugContext(ctx, "vellum: dropping undecodable cache entry", "key", key)
	}
	v, err, _ := s.engine.flights.Do(key, func() (any, error) {
		rows, err := s.queryText(ctx, query, args)
		if err != nil {
			return nil, err
		}
		b, err := msgpack.Marshal(rows)
		if err != nil {
			return nil, err
		}
		if err := c.Set(ctx, key, b, s.engine.cacheTTL); err != nil {
			s.engine.logger.WarnContext(ctx, "vellum: cache set failed", "table", table, "error", err)
		}
		// Callers of a shared flight get the decoded copy, never the
		// slices of the session that ran the query.
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return decodeRows(v.([]byte))
}

func decodeRows(b []byte) ([][]any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseLooseInterfaceDecoding(true)
	var rows [][]any
	if err := dec.Decode(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}
